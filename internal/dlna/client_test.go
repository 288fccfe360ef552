package dlna

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeRenderer serves a device description and records SOAP posts to
// its control URLs.
type fakeRenderer struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls []soapRecord
}

type soapRecord struct {
	Path   string
	Action string
	Body   string
}

func newFakeRenderer(t *testing.T) *fakeRenderer {
	t.Helper()
	f := &fakeRenderer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/description.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<device>
<friendlyName>Test TV</friendlyName>
<UDN>uuid:test-renderer-1</UDN>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
<controlURL>/AVTransport/control</controlURL>
</service>
<service>
<serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
<controlURL>/RenderingControl/control</controlURL>
</service>
</serviceList>
</device>
</root>`)
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, soapRecord{
			Path:   r.URL.Path,
			Action: r.Header.Get("SOAPACTION"),
			Body:   string(b),
		})
		f.mu.Unlock()
		io.WriteString(w, `<s:Envelope><s:Body><RelTime>00:00:05</RelTime><TrackDuration>01:00:00</TrackDuration><CurrentTransportState>PLAYING</CurrentTransportState><CurrentVolume>40</CurrentVolume></s:Body></s:Envelope>`)
	}
	mux.HandleFunc("/AVTransport/control", record)
	mux.HandleFunc("/RenderingControl/control", record)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRenderer) recorded() []soapRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]soapRecord, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeRenderer) {
	t.Helper()
	f := newFakeRenderer(t)
	c := &Client{
		DescriptionURL: f.srv.URL + "/description.xml",
		HTTP:           f.srv.Client(),
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, f
}

func TestClient_connectResolvesControlURLs(t *testing.T) {
	c, f := newTestClient(t)
	if c.avTransportURL != f.srv.URL+"/AVTransport/control" {
		t.Fatalf("avTransportURL = %q", c.avTransportURL)
	}
	if c.renderingControlURL != f.srv.URL+"/RenderingControl/control" {
		t.Fatalf("renderingControlURL = %q", c.renderingControlURL)
	}
}

func TestClient_loadMediaSetsURIAndPlays(t *testing.T) {
	c, f := newTestClient(t)

	mediaURL := "http://host:9876/media/movie.mp4"
	if err := c.LoadMedia(context.Background(), mediaURL, 0); err != nil {
		t.Fatalf("LoadMedia: %v", err)
	}

	calls := f.recorded()
	if len(calls) < 2 {
		t.Fatalf("calls = %d, want at least SetAVTransportURI then Play", len(calls))
	}

	set := calls[0]
	if set.Path != "/AVTransport/control" {
		t.Fatalf("SetAVTransportURI path = %q", set.Path)
	}
	if set.Action != `"urn:schemas-upnp-org:service:AVTransport:1#SetAVTransportURI"` {
		t.Fatalf("SOAPACTION = %q", set.Action)
	}
	if !strings.Contains(set.Body, "<u:SetAVTransportURI") {
		t.Fatalf("body missing action: %q", set.Body)
	}
	if !strings.Contains(set.Body, "<CurrentURI>"+mediaURL+"</CurrentURI>") {
		t.Fatalf("body missing CurrentURI: %q", set.Body)
	}
	// Metadata must be present and XML-escaped (no raw angle brackets
	// inside the argument).
	meta := extractTag(set.Body, "CurrentURIMetaData")
	if meta == "" {
		t.Fatal("empty CurrentURIMetaData")
	}
	if strings.Contains(meta, "<DIDL-Lite") {
		t.Fatalf("metadata not escaped: %q", meta)
	}
	if !strings.Contains(UnescapeXML(meta), "<DIDL-Lite") {
		t.Fatalf("unescaped metadata is not DIDL-Lite: %q", UnescapeXML(meta))
	}

	if !strings.Contains(calls[1].Action, "#Play") {
		t.Fatalf("second call = %q, want Play", calls[1].Action)
	}
}

func TestClient_loadMediaSeeksToStartPosition(t *testing.T) {
	c, f := newTestClient(t)

	if err := c.LoadMedia(context.Background(), "http://host/media/f.mp4", 90); err != nil {
		t.Fatalf("LoadMedia: %v", err)
	}

	var seek *soapRecord
	calls := f.recorded()
	for i := range calls {
		if strings.Contains(calls[i].Action, "#Seek") {
			seek = &calls[i]
			break
		}
	}
	if seek == nil {
		t.Fatal("no Seek call after LoadMedia with start position")
	}
	if !strings.Contains(seek.Body, "<Unit>REL_TIME</Unit>") || !strings.Contains(seek.Body, "<Target>00:01:30</Target>") {
		t.Fatalf("Seek body = %q", seek.Body)
	}
}

func TestClient_positionAndVolume(t *testing.T) {
	c, _ := newTestClient(t)

	pos, dur, paused, err := c.Position(context.Background())
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 5 || dur != 3600 || paused {
		t.Fatalf("Position = (%v, %v, %v)", pos, dur, paused)
	}

	vol, err := c.GetVolume(context.Background())
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if vol != 40 {
		t.Fatalf("GetVolume = %d, want 40", vol)
	}

	if err := c.SetVolume(context.Background(), 150); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
}

func TestClient_connectRequiresAVTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<root><device><friendlyName>Speaker</friendlyName></device></root>`)
	}))
	defer srv.Close()

	c := &Client{DescriptionURL: srv.URL + "/description.xml", HTTP: srv.Client()}
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect without AVTransport service: want error")
	}
}
