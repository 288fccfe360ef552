package dlna

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/castbridge/cast-bridge/internal/httpclient"
)

// Transport states reported by GetTransportInfo.
const (
	StateStopped        = "STOPPED"
	StatePlaying        = "PLAYING"
	StatePausedPlayback = "PAUSED_PLAYBACK"
	StateTransitioning  = "TRANSITIONING"
	StateNoMedia        = "NO_MEDIA_PRESENT"
)

// Client drives one MediaRenderer over stateless SOAP calls. Connect
// resolves the AVTransport and RenderingControl control URLs from the
// device description; everything after that is one POST per operation.
type Client struct {
	// DescriptionURL is the device description document advertised in
	// the SSDP LOCATION header.
	DescriptionURL string

	// OnPlayback receives position/duration/paused updates after calls
	// that refresh them (seek, Position).
	OnPlayback func(position, duration float64, paused bool)

	HTTP *http.Client

	avTransportURL      string
	renderingControlURL string
	lastTransportState  string
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return httpclient.Default()
}

// Connect fetches the device description and resolves the control URLs.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DescriptionURL, nil)
	if err != nil {
		return &Error{fmt.Sprintf("description URL: %v", err)}
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return &Error{fmt.Sprintf("fetch description: %v", err)}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{fmt.Sprintf("read description: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{fmt.Sprintf("fetch description: HTTP %d", resp.StatusCode)}
	}
	doc := string(body)
	c.avTransportURL = c.resolveControlURL(doc, ServiceAVTransport)
	c.renderingControlURL = c.resolveControlURL(doc, ServiceRenderingControl)
	if c.avTransportURL == "" {
		return &Error{"no AVTransport service in device description"}
	}
	return nil
}

// resolveControlURL finds the <controlURL> of the service block whose
// serviceType mentions serviceType, made absolute against the
// description URL.
func (c *Client) resolveControlURL(doc, serviceType string) string {
	idx := strings.Index(doc, ":service:"+serviceType+":")
	if idx < 0 {
		return ""
	}
	block := doc[idx:]
	if end := strings.Index(block, "</service>"); end >= 0 {
		block = block[:end]
	}
	controlURL := extractTag(block, "controlURL")
	if controlURL == "" {
		return ""
	}
	base, err := url.Parse(c.DescriptionURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(controlURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// LoadMedia sets the transport URI with DIDL-Lite metadata, starts
// playback, and seeks when a start position was requested.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	title := mediaTitle(mediaURL)
	didl := BuildDIDL(title, mediaURL, mimeForURL(mediaURL))
	args := fmt.Sprintf("<InstanceID>0</InstanceID><CurrentURI>%s</CurrentURI><CurrentURIMetaData>%s</CurrentURIMetaData>",
		EscapeXML(mediaURL), EscapeXML(didl))
	if _, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "SetAVTransportURI", args); err != nil {
		return err
	}
	if err := c.Play(ctx); err != nil {
		return err
	}
	if startPosition > 0 {
		return c.Seek(ctx, startPosition)
	}
	return nil
}

// Play starts or resumes playback at speed 1.
func (c *Client) Play(ctx context.Context) error {
	_, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "Play",
		"<InstanceID>0</InstanceID><Speed>1</Speed>")
	return err
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	_, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "Pause",
		"<InstanceID>0</InstanceID>")
	return err
}

// Stop stops the transport.
func (c *Client) Stop(ctx context.Context) error {
	_, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "Stop",
		"<InstanceID>0</InstanceID>")
	return err
}

// Seek jumps to position seconds using REL_TIME.
func (c *Client) Seek(ctx context.Context, position float64) error {
	args := fmt.Sprintf("<InstanceID>0</InstanceID><Unit>REL_TIME</Unit><Target>%s</Target>", FormatTime(position))
	if _, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "Seek", args); err != nil {
		return err
	}
	if c.OnPlayback != nil {
		pos, dur, paused, err := c.Position(ctx)
		if err == nil {
			c.OnPlayback(pos, dur, paused)
		}
	}
	return nil
}

// SetVolume sets the Master channel volume. level is 0..100.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	if c.renderingControlURL == "" {
		return &Error{"no RenderingControl service"}
	}
	level = int(math.Min(100, math.Max(0, float64(level))))
	args := fmt.Sprintf("<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredVolume>%d</DesiredVolume>", level)
	_, err := soapCall(ctx, c.http(), c.renderingControlURL, ServiceRenderingControl, "SetVolume", args)
	return err
}

// GetVolume reads the Master channel volume (0..100).
func (c *Client) GetVolume(ctx context.Context) (int, error) {
	if c.renderingControlURL == "" {
		return 0, &Error{"no RenderingControl service"}
	}
	resp, err := soapCall(ctx, c.http(), c.renderingControlURL, ServiceRenderingControl, "GetVolume",
		"<InstanceID>0</InstanceID><Channel>Master</Channel>")
	if err != nil {
		return 0, err
	}
	var vol int
	fmt.Sscanf(extractTag(resp, "CurrentVolume"), "%d", &vol)
	return vol, nil
}

// SetMute mutes or unmutes the Master channel.
func (c *Client) SetMute(ctx context.Context, mute bool) error {
	if c.renderingControlURL == "" {
		return &Error{"no RenderingControl service"}
	}
	v := 0
	if mute {
		v = 1
	}
	args := fmt.Sprintf("<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredMute>%d</DesiredMute>", v)
	_, err := soapCall(ctx, c.http(), c.renderingControlURL, ServiceRenderingControl, "SetMute", args)
	return err
}

// Position queries GetPositionInfo and GetTransportInfo and returns the
// current position, duration and paused flag.
func (c *Client) Position(ctx context.Context) (position, duration float64, paused bool, err error) {
	resp, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "GetPositionInfo",
		"<InstanceID>0</InstanceID>")
	if err != nil {
		return 0, 0, false, err
	}
	position = ParseTime(extractTag(resp, "RelTime"))
	duration = ParseTime(extractTag(resp, "TrackDuration"))

	state, err := c.TransportState(ctx)
	if err != nil {
		return position, duration, false, err
	}
	return position, duration, state == StatePausedPlayback, nil
}

// TransportState queries GetTransportInfo.
func (c *Client) TransportState(ctx context.Context) (string, error) {
	resp, err := soapCall(ctx, c.http(), c.avTransportURL, ServiceAVTransport, "GetTransportInfo",
		"<InstanceID>0</InstanceID>")
	if err != nil {
		return "", err
	}
	c.lastTransportState = extractTag(resp, "CurrentTransportState")
	return c.lastTransportState, nil
}

// Disconnect is a no-op: SOAP is stateless.
func (c *Client) Disconnect() {}

func mediaTitle(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "Video"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "Video"
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func mimeForURL(mediaURL string) string {
	switch strings.ToLower(path.Ext(mediaURL)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".ts", ".m2ts":
		return "video/mp2t"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/mp4"
	}
}
