package discovery

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/libp2p/zeroconf/v2"

	"github.com/castbridge/cast-bridge/internal/airplay"
	"github.com/castbridge/cast-bridge/internal/castv2"
	"github.com/castbridge/cast-bridge/internal/device"
	"github.com/castbridge/cast-bridge/internal/metrics"
)

const (
	serviceGoogleCast = "_googlecast._tcp"
	serviceAirPlay    = "_airplay._tcp"
)

// browseMDNS browses both cast service types until ctx expires.
func (b *Browser) browseMDNS(ctx context.Context) error {
	var wg sync.WaitGroup
	var castErr, airErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		castErr = b.browseService(ctx, serviceGoogleCast, device.TypeChromecast)
	}()
	go func() {
		defer wg.Done()
		airErr = b.browseService(ctx, serviceAirPlay, device.TypeAirPlay)
	}()
	wg.Wait()

	if castErr != nil {
		return castErr
	}
	return airErr
}

func (b *Browser) browseService(ctx context.Context, service string, devType device.Type) error {
	entries := make(chan *zeroconf.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if d, ok := deviceFromEntry(entry, devType); ok {
				b.Directory.Upsert(d)
				metrics.DevicesDiscovered.WithLabelValues(string(devType)).Inc()
				log.Printf("discovery: mdns: %s %q at %s:%d", devType, d.Name, d.Address, d.Port)
			}
		}
	}()
	err := zeroconf.Browse(ctx, service, "local.", entries)
	<-done
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// deviceFromEntry converts one mDNS answer into a Device. Chromecasts
// advertise their friendly name in the TXT "fn" key; the service
// instance name is the fallback for both protocols.
func deviceFromEntry(entry *zeroconf.ServiceEntry, devType device.Type) (device.Device, bool) {
	if len(entry.AddrIPv4) == 0 {
		return device.Device{}, false
	}
	addr := entry.AddrIPv4[0].String()

	name := entry.Instance
	if fn := txtValue(entry.Text, "fn"); fn != "" {
		name = fn
	}
	if name == "" {
		name = addr
	}

	port := entry.Port
	caps := device.Capabilities{}
	switch devType {
	case device.TypeChromecast:
		if port == 0 {
			port = castv2.DefaultPort
		}
		caps = device.ChromecastCapabilities()
	case device.TypeAirPlay:
		if port == 0 {
			port = airplay.DefaultPort
		}
		caps = device.AirPlayCapabilities()
	}

	return device.Device{
		ID:           device.HashID(devType, entry.Instance+"."+entry.Service),
		Name:         name,
		Type:         devType,
		Address:      addr,
		Port:         port,
		Capabilities: caps,
	}, true
}

// txtValue returns the value of key in a TXT record set ("key=value"
// strings), or "".
func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, kv := range txt {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}
