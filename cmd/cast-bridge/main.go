// Command cast-bridge: background helper that casts local media to
// Chromecast, DLNA and AirPlay devices on the LAN. A host player drives
// it over a small HTTP control plane; devices pull the media bytes from
// the same port.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castbridge/cast-bridge/internal/config"
	"github.com/castbridge/cast-bridge/internal/control"
	"github.com/castbridge/cast-bridge/internal/device"
	"github.com/castbridge/cast-bridge/internal/discovery"
	"github.com/castbridge/cast-bridge/internal/mediaserv"
	"github.com/castbridge/cast-bridge/internal/session"
)

const version = "1.0.0"

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[cast-bridge] ")

	cfg := config.Load()

	addr := flag.String("addr", "", "Listen address (default: CAST_BRIDGE_ADDR or :CAST_BRIDGE_PORT)")
	mediaRoot := flag.String("media-root", "", "Allow-listed media root (default: CAST_BRIDGE_MEDIA_ROOT)")
	subtitleRoot := flag.String("subtitle-root", "", "Sidecar subtitle root (default: media root)")
	friendlyName := flag.String("friendly-name", "", "Name shown in logs (default: CAST_BRIDGE_FRIENDLY_NAME)")
	noMDNS := flag.Bool("no-mdns", false, "Disable mDNS discovery")
	noSSDP := flag.Bool("no-ssdp", false, "Disable SSDP discovery")
	flag.Parse()

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *mediaRoot != "" {
		cfg.MediaRoot = *mediaRoot
		if *subtitleRoot == "" {
			cfg.SubtitleRoot = *mediaRoot
		}
	}
	if *subtitleRoot != "" {
		cfg.SubtitleRoot = *subtitleRoot
	}
	if *friendlyName != "" {
		cfg.FriendlyName = *friendlyName
	}
	if *noMDNS {
		cfg.MDNSDisabled = true
	}
	if *noSSDP {
		cfg.SSDPDisabled = true
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := device.NewDirectory()
	browser := &discovery.Browser{
		Directory:   directory,
		Timeout:     cfg.DiscoveryTimeout,
		DisableMDNS: cfg.MDNSDisabled,
		DisableSSDP: cfg.SSDPDisabled,
	}
	coordinator := &session.Coordinator{Directory: directory}

	srv := &control.Server{
		Addr:         cfg.Addr,
		Version:      version,
		FriendlyName: cfg.FriendlyName,
		Directory:    directory,
		Coordinator:  coordinator,
		Browser:      browser,
		Media: &mediaserv.Handler{
			MediaRoot:    cfg.MediaRoot,
			SubtitleRoot: cfg.SubtitleRoot,
		},
		Shutdown: stop,
	}

	log.Printf("%s %s starting (media root %s)", cfg.FriendlyName, version, cfg.MediaRoot)

	// Sweep once at startup so /devices has answers right away.
	browser.Refresh(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		// Tear down any live session before the process exits so the
		// device does not keep a dead media URL on screen.
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Stop(stopCtx)
		return nil
	})
	return g.Wait()
}
