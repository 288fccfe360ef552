package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/castbridge/cast-bridge/internal/device"
	"github.com/castbridge/cast-bridge/internal/httpclient"
	"github.com/castbridge/cast-bridge/internal/metrics"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	ssdpSearchTarget  = "urn:schemas-upnp-org:device:MediaRenderer:1"
	ssdpMX            = 3
	ssdpTTL           = 2
)

// searchRequest is the M-SEARCH datagram broadcast on each sweep.
func searchRequest() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpMulticastAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: " + strconv.Itoa(ssdpMX) + "\r\n" +
		"ST: " + ssdpSearchTarget + "\r\n" +
		"\r\n")
}

// ssdpSweep handles the responses of one discovery run: parse the
// LOCATION, de-duplicate, fetch each description at most once.
type ssdpSweep struct {
	directory *device.Directory
	limiter   *rate.Limiter
	seen      map[string]bool
	wg        sync.WaitGroup

	// describe overrides the description fetch in tests.
	describe func(ctx context.Context, location string) (device.Device, error)
}

func newSSDPSweep(directory *device.Directory) *ssdpSweep {
	return &ssdpSweep{
		directory: directory,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		seen:      map[string]bool{},
		describe:  describeRenderer,
	}
}

// handleResponse processes one SSDP datagram. The first sighting of a
// LOCATION spawns a rate-limited description fetch; repeats within the
// same sweep are dropped so a chatty network cannot trigger a fetch
// storm.
func (s *ssdpSweep) handleResponse(ctx context.Context, msg string) {
	location := parseLocation(msg)
	if location == "" || s.seen[location] {
		return
	}
	s.seen[location] = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		d, err := s.describe(ctx, location)
		if err != nil {
			log.Printf("discovery: ssdp: describe %s: %v", location, err)
			return
		}
		s.directory.Upsert(d)
		metrics.DevicesDiscovered.WithLabelValues(string(device.TypeDLNA)).Inc()
		log.Printf("discovery: ssdp: dlna %q at %s:%d", d.Name, d.Address, d.Port)
	}()
}

// wait blocks until every spawned description fetch has finished.
func (s *ssdpSweep) wait() { s.wg.Wait() }

// searchSSDP multicasts an M-SEARCH for MediaRenderers and collects
// responses until ctx expires.
func (b *Browser) searchSSDP(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	defer pc.Close()

	p := ipv4.NewPacketConn(pc)
	if err := p.SetMulticastTTL(ssdpTTL); err != nil {
		log.Printf("discovery: ssdp: set multicast TTL: %v", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return fmt.Errorf("resolve multicast addr: %w", err)
	}
	if _, err := pc.WriteTo(searchRequest(), dst); err != nil {
		return fmt.Errorf("send M-SEARCH: %w", err)
	}

	sweep := newSSDPSweep(b.Directory)
	defer sweep.wait()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pc.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return err
		}
		sweep.handleResponse(ctx, string(buf[:n]))
	}
}

// parseLocation extracts the LOCATION header from an SSDP response.
// Header names are case-insensitive on the wire.
func parseLocation(msg string) string {
	if !strings.Contains(msg, "HTTP/1.1 200") {
		return ""
	}
	for _, line := range strings.Split(msg, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "LOCATION") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// descClient bounds description fetches well inside the discovery
// window; the shared 30s client would outlive the sweep.
var descClient = httpclient.WithTimeout(5 * time.Second)

// describeRenderer fetches the device description document and builds
// the Device entry from it.
func describeRenderer(ctx context.Context, location string) (device.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return device.Device{}, err
	}
	resp, err := descClient.Do(req)
	if err != nil {
		return device.Device{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return device.Device{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return device.Device{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return rendererFromDescription(location, string(body))
}

func rendererFromDescription(location, doc string) (device.Device, error) {
	u, err := url.Parse(location)
	if err != nil {
		return device.Device{}, err
	}
	host := u.Hostname()
	port := 80
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}

	// Descriptions without a name or a stable identifier are skipped;
	// neither can be invented without breaking id stability across runs.
	name := xmlTag(doc, "friendlyName")
	udn := xmlTag(doc, "UDN")
	if name == "" || udn == "" {
		return device.Device{}, fmt.Errorf("description missing friendlyName or UDN")
	}

	return device.Device{
		ID:             device.HashID(device.TypeDLNA, udn),
		Name:           name,
		Type:           device.TypeDLNA,
		Address:        host,
		Port:           port,
		DescriptionURL: location,
		Capabilities:   device.DLNACapabilities(),
	}, nil
}

// xmlTag returns the text of the first <tag> element in doc.
func xmlTag(doc, tag string) string {
	open := "<" + tag + ">"
	start := strings.Index(doc, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(doc[start:], "</"+tag+">")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(doc[start : start+end])
}
