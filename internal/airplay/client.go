package airplay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"howett.net/plist"

	"github.com/castbridge/cast-bridge/internal/httpclient"
)

// DefaultPort is the AirPlay video receiver port.
const DefaultPort = 7000

const (
	userAgent    = "MediaControl/1.0"
	pollInterval = time.Second
)

// Error is a failed AirPlay HTTP exchange.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "airplay: " + e.Msg }

// Client drives one AirPlay receiver over plain HTTP with binary-plist
// bodies. A fresh X-Apple-Session-ID is minted per Client and sent on
// every request; playback state is polled once a second while a session
// is active.
type Client struct {
	Host string
	Port int

	// OnPlayback receives position/duration/paused updates from the
	// playback-info poller.
	OnPlayback func(position, duration float64, paused bool)

	HTTP *http.Client

	sessionID string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return httpclient.Default()
}

func (c *Client) baseURL() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Connect mints the session id and verifies the receiver answers
// /server-info.
func (c *Client) Connect(ctx context.Context) error {
	c.sessionID = uuid.NewString()
	_, err := c.ServerInfo(ctx)
	return err
}

// ServerInfo fetches and decodes the receiver's /server-info plist.
func (c *Client) ServerInfo(ctx context.Context) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/server-info", "", nil)
	if err != nil {
		return nil, err
	}
	info := map[string]any{}
	if _, err := plist.Unmarshal(body, &info); err != nil {
		return nil, &Error{fmt.Sprintf("server-info: %v", err)}
	}
	return info, nil
}

// LoadMedia starts playback of mediaURL. startPosition is seconds; the
// receiver's Start-Position field is a fraction of the duration, which
// is unknown before playback starts, so /play is issued with fraction 0
// and a /scrub to the absolute position follows once the receiver
// reports a duration.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	payload := map[string]any{
		"Content-Location": mediaURL,
		"Start-Position":   0.0,
	}
	body, err := plist.Marshal(payload, plist.BinaryFormat)
	if err != nil {
		return &Error{fmt.Sprintf("encode play request: %v", err)}
	}
	if _, err := c.do(ctx, http.MethodPost, "/play", "application/x-apple-binary-plist", body); err != nil {
		return err
	}
	if startPosition > 0 {
		// The receiver ignores scrubs before it has buffered; retry
		// briefly until playback-info reports a duration.
		go c.seekWhenReady(startPosition)
	}
	c.startPoller()
	return nil
}

func (c *Client) seekWhenReady(position float64) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		info, err := c.PlaybackInfo(ctx)
		cancel()
		if err == nil && info.Duration > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Seek(ctx, position)
			cancel()
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Play resumes playback (rate 1).
func (c *Client) Play(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/rate?value=1.000000", "", nil)
	return err
}

// Pause pauses playback (rate 0).
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/rate?value=0.000000", "", nil)
	return err
}

// Seek scrubs to position seconds.
func (c *Client) Seek(ctx context.Context, position float64) error {
	path := fmt.Sprintf("/scrub?position=%f", position)
	_, err := c.do(ctx, http.MethodPost, path, "", nil)
	return err
}

// Stop ends the session and stops the poller.
func (c *Client) Stop(ctx context.Context) error {
	c.stopPoller()
	_, err := c.do(ctx, http.MethodPost, "/stop", "", nil)
	return err
}

// SetVolume is accepted but not forwarded: AirPlay video receivers have
// no volume endpoint in this protocol revision.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	return nil
}

// SendPhoto pushes a JPEG to the receiver's photo display endpoint.
func (c *Client) SendPhoto(ctx context.Context, jpeg []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/photo", "image/jpeg", jpeg)
	return err
}

// PlaybackState is one decoded /playback-info response.
type PlaybackState struct {
	Position float64
	Duration float64
	Rate     float64
}

// Paused reports whether loaded media is paused. A zero rate with no
// duration means nothing is loaded, not a pause.
func (s PlaybackState) Paused() bool { return s.Rate == 0 && s.Duration > 0 }

// PlaybackInfo fetches and decodes /playback-info.
func (c *Client) PlaybackInfo(ctx context.Context) (PlaybackState, error) {
	body, err := c.do(ctx, http.MethodGet, "/playback-info", "", nil)
	if err != nil {
		return PlaybackState{}, err
	}
	return parsePlaybackInfo(body)
}

func parsePlaybackInfo(body []byte) (PlaybackState, error) {
	raw := map[string]any{}
	if _, err := plist.Unmarshal(body, &raw); err != nil {
		return PlaybackState{}, &Error{fmt.Sprintf("playback-info: %v", err)}
	}
	return PlaybackState{
		Position: plistFloat(raw["position"]),
		Duration: plistFloat(raw["duration"]),
		Rate:     plistFloat(raw["rate"]),
	}, nil
}

func plistFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

// Disconnect stops the poller. The receiver keeps playing until /stop.
func (c *Client) Disconnect() {
	c.stopPoller()
}

func (c *Client) startPoller() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.poll(ctx)
}

func (c *Client) stopPoller() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, pollInterval)
			state, err := c.PlaybackInfo(reqCtx)
			cancel()
			if err != nil {
				continue
			}
			if c.OnPlayback != nil {
				c.OnPlayback(state.Position, state.Duration, state.Paused())
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, rd)
	if err != nil {
		return nil, &Error{fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Apple-Session-ID", c.sessionID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, &Error{fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{fmt.Sprintf("%s %s: read response: %v", method, path, err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)}
	}
	return respBody, nil
}
