// Package discovery finds castable devices on the local network and
// feeds them into the shared device directory. Two probes run per
// sweep: an mDNS browse for Chromecast and AirPlay receivers, and an
// SSDP M-SEARCH for DLNA MediaRenderers.
package discovery

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/castbridge/cast-bridge/internal/device"
)

// DefaultTimeout bounds one discovery sweep.
const DefaultTimeout = 6 * time.Second

// Browser runs discovery sweeps and records results in Directory.
type Browser struct {
	Directory *device.Directory
	Timeout   time.Duration

	DisableMDNS bool
	DisableSSDP bool

	mu      sync.Mutex
	running bool
}

func (b *Browser) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return DefaultTimeout
}

// Refresh clears the directory and starts a background sweep. A sweep
// already in flight is left alone; the call returns immediately either
// way.
func (b *Browser) Refresh(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.Directory.Clear()
	go func() {
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
		}()
		b.sweep(ctx)
	}()
}

func (b *Browser) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	var wg sync.WaitGroup
	if !b.DisableMDNS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.browseMDNS(ctx); err != nil {
				log.Printf("discovery: mdns: %v", err)
			}
		}()
	}
	if !b.DisableSSDP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.searchSSDP(ctx); err != nil {
				log.Printf("discovery: ssdp: %v", err)
			}
		}()
	}
	wg.Wait()
	log.Printf("discovery: sweep done, %d device(s)", b.Directory.Len())
}
