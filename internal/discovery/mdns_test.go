package discovery

import (
	"net"
	"testing"

	"github.com/libp2p/zeroconf/v2"

	"github.com/castbridge/cast-bridge/internal/device"
)

func entry(instance, service string, port int, txt []string, addrs ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  service,
			Domain:   "local.",
		},
		Port: port,
		Text: txt,
	}
	for _, a := range addrs {
		e.AddrIPv4 = append(e.AddrIPv4, net.ParseIP(a))
	}
	return e
}

func TestDeviceFromEntry_chromecast(t *testing.T) {
	e := entry("Chromecast-abc123", serviceGoogleCast, 8009,
		[]string{"id=abc123", "fn=Living Room TV", "md=Chromecast Ultra"}, "10.0.0.5")

	d, ok := deviceFromEntry(e, device.TypeChromecast)
	if !ok {
		t.Fatal("entry rejected")
	}
	if d.Name != "Living Room TV" {
		t.Fatalf("name = %q, want TXT fn value", d.Name)
	}
	if d.Type != device.TypeChromecast || d.Address != "10.0.0.5" || d.Port != 8009 {
		t.Fatalf("device = %+v", d)
	}
	if !d.Capabilities.HDR {
		t.Fatalf("capabilities = %+v", d.Capabilities)
	}
}

func TestDeviceFromEntry_airplayDefaults(t *testing.T) {
	e := entry("Apple TV", serviceAirPlay, 0, nil, "10.0.0.6")

	d, ok := deviceFromEntry(e, device.TypeAirPlay)
	if !ok {
		t.Fatal("entry rejected")
	}
	if d.Name != "Apple TV" {
		t.Fatalf("name = %q, want instance name", d.Name)
	}
	if d.Port != 7000 {
		t.Fatalf("port = %d, want AirPlay default 7000", d.Port)
	}
	if !d.Capabilities.DolbyVision {
		t.Fatalf("capabilities = %+v", d.Capabilities)
	}
}

func TestDeviceFromEntry_noAddress(t *testing.T) {
	e := entry("Ghost", serviceGoogleCast, 8009, nil)
	if _, ok := deviceFromEntry(e, device.TypeChromecast); ok {
		t.Fatal("entry without IPv4 address must be rejected")
	}
}

func TestDeviceFromEntry_stableID(t *testing.T) {
	a := entry("Chromecast-abc123", serviceGoogleCast, 8009, []string{"fn=TV"}, "10.0.0.5")
	b := entry("Chromecast-abc123", serviceGoogleCast, 8009, []string{"fn=Renamed TV"}, "10.0.0.50")

	da, _ := deviceFromEntry(a, device.TypeChromecast)
	db, _ := deviceFromEntry(b, device.TypeChromecast)
	if da.ID != db.ID {
		t.Fatalf("id not stable across re-resolution: %q vs %q", da.ID, db.ID)
	}
}

func TestTxtValue(t *testing.T) {
	txt := []string{"id=abc", "fn=My TV", "ca=4101"}
	if got := txtValue(txt, "fn"); got != "My TV" {
		t.Fatalf("fn = %q", got)
	}
	if got := txtValue(txt, "md"); got != "" {
		t.Fatalf("md = %q, want empty", got)
	}
	if got := txtValue(nil, "fn"); got != "" {
		t.Fatalf("nil txt = %q, want empty", got)
	}
}
