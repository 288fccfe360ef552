package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/castbridge/cast-bridge/internal/metrics"
)

// Cast namespaces.
const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"
)

const (
	senderID   = "sender-0"
	receiverID = "receiver-0"

	// DefaultMediaReceiverAppID is the generic receiver application.
	DefaultMediaReceiverAppID = "CC1AD845"

	// DefaultPort is the CASTV2 TLS port.
	DefaultPort = 8009

	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 15 * time.Second
	requestTimeout           = 10 * time.Second
	dialTimeout              = 10 * time.Second
)

// Error is a semantic failure reported by the peer or an internal
// invariant violation (e.g. no transportId in RECEIVER_STATUS).
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "chromecast: " + e.Msg }

// ErrConnectionLost reports that the TLS channel died (socket error or
// heartbeat timeout). In-flight operations fail with it.
var ErrConnectionLost = errors.New("chromecast: connection lost")

// Client drives one Chromecast over a CASTV2 channel. Not safe for
// concurrent method calls except Disconnect; the session coordinator
// serializes operations.
type Client struct {
	Host string
	Port int

	// OnPlayback receives cached position/duration/paused updates from
	// MEDIA_STATUS broadcasts. Called from the receive loop goroutine.
	OnPlayback func(position, duration float64, paused bool)

	// HeartbeatInterval and HeartbeatTimeout override the 5s PING cadence
	// and the 15s silence limit. Zero means the default.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	conn    *tls.Conn
	writeMu sync.Mutex // serializes outbound frames

	mu             sync.Mutex // channel state below
	requestID      uint64     // restarts from 1 on each new channel
	transportID    string
	sessionID      string
	mediaSessionID float64
	connected      bool

	pendingMu sync.Mutex
	pending   map[uint64]chan map[string]any

	pong chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials host:8009 over TLS (the cast channel uses a self-signed
// certificate, so verification is disabled for this connection only),
// opens the virtual connection, starts the heartbeat, launches the
// Default Media Receiver and connects to its transport.
func (c *Client) Connect(ctx context.Context) error {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(c.Host, fmt.Sprintf("%d", port)), &tls.Config{
		InsecureSkipVerify: true, // cast devices present self-signed certs
	})
	if err != nil {
		return fmt.Errorf("chromecast: connect %s:%d: %w", c.Host, port, err)
	}
	c.conn = conn
	c.pending = make(map[uint64]chan map[string]any)
	c.done = make(chan struct{})
	c.closeOnce = sync.Once{}
	c.mu.Lock()
	c.requestID = 0 // each new channel restarts from 1
	c.pong = nil
	c.mu.Unlock()

	bgCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.recvLoop()
	go c.heartbeatLoop(bgCtx)

	if err := c.send(receiverID, NamespaceConnection, map[string]any{"type": "CONNECT"}); err != nil {
		c.teardown()
		return fmt.Errorf("chromecast: CONNECT: %w", err)
	}
	if err := c.launch(ctx); err != nil {
		c.teardown()
		return err
	}
	return nil
}

// launch starts the Default Media Receiver and connects to its transport.
// The RECEIVER_STATUS reply is correlated by requestId.
func (c *Client) launch(ctx context.Context) error {
	id, ch := c.register()
	err := c.send(receiverID, NamespaceReceiver, map[string]any{
		"type":      "LAUNCH",
		"requestId": id,
		"appId":     DefaultMediaReceiverAppID,
	})
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("chromecast: LAUNCH: %w", err)
	}
	payload, err := c.await(ctx, id, ch)
	if err != nil {
		return err
	}
	transportID, sessionID := applicationIDs(payload)
	if transportID == "" {
		return &Error{"no transportId in RECEIVER_STATUS"}
	}
	c.mu.Lock()
	c.transportID = transportID
	c.sessionID = sessionID
	c.connected = true
	c.mu.Unlock()

	if err := c.send(transportID, NamespaceConnection, map[string]any{"type": "CONNECT"}); err != nil {
		return fmt.Errorf("chromecast: CONNECT app: %w", err)
	}
	return nil
}

// LoadMedia loads mediaURL on the launched receiver, starting playback
// at startPosition seconds. Waits for the MEDIA_STATUS carrying the
// media session id.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	c.mu.Lock()
	transportID := c.transportID
	c.mu.Unlock()
	if transportID == "" {
		return &Error{"no receiver application launched"}
	}
	id, ch := c.register()
	err := c.send(transportID, NamespaceMedia, map[string]any{
		"type":        "LOAD",
		"requestId":   id,
		"autoplay":    true,
		"currentTime": startPosition,
		"media": map[string]any{
			"contentId":   mediaURL,
			"contentType": "video/mp4",
			"streamType":  "BUFFERED",
		},
	})
	if err != nil {
		c.unregister(id)
		return fmt.Errorf("chromecast: LOAD: %w", err)
	}
	payload, err := c.await(ctx, id, ch)
	if err != nil {
		return err
	}
	if t, _ := payload["type"].(string); t == "LOAD_FAILED" || t == "INVALID_REQUEST" {
		return &Error{"load failed: " + t}
	}
	if msID := firstMediaSessionID(payload); msID != 0 {
		c.mu.Lock()
		c.mediaSessionID = msID
		c.mu.Unlock()
	}
	return nil
}

// Play resumes playback.
func (c *Client) Play(ctx context.Context) error { return c.mediaCommand(ctx, "PLAY", nil) }

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error { return c.mediaCommand(ctx, "PAUSE", nil) }

// Seek jumps to position seconds.
func (c *Client) Seek(ctx context.Context, position float64) error {
	return c.mediaCommand(ctx, "SEEK", map[string]any{"currentTime": position})
}

// Stop stops the loaded media.
func (c *Client) Stop(ctx context.Context) error { return c.mediaCommand(ctx, "STOP", nil) }

func (c *Client) mediaCommand(ctx context.Context, typ string, extra map[string]any) error {
	c.mu.Lock()
	transportID := c.transportID
	msID := c.mediaSessionID
	c.mu.Unlock()
	if transportID == "" {
		return &Error{"no receiver application launched"}
	}
	if msID == 0 {
		return &Error{"no active media session"}
	}
	payload := map[string]any{
		"type":           typ,
		"requestId":      c.nextRequestID(),
		"mediaSessionId": msID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.send(transportID, NamespaceMedia, payload); err != nil {
		return fmt.Errorf("chromecast: %s: %w", typ, err)
	}
	return nil
}

// SetVolume sets the receiver volume. level is 0..100.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	err := c.send(receiverID, NamespaceReceiver, map[string]any{
		"type":      "SET_VOLUME",
		"requestId": c.nextRequestID(),
		"volume":    map[string]any{"level": float64(level) / 100},
	})
	if err != nil {
		return fmt.Errorf("chromecast: SET_VOLUME: %w", err)
	}
	return nil
}

// Disconnect closes the virtual connection and tears the channel down.
// Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	transportID := c.transportID
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	// Best effort; the channel may already be dead.
	if transportID != "" {
		_ = c.send(transportID, NamespaceConnection, map[string]any{"type": "CLOSE"})
	}
	_ = c.send(receiverID, NamespaceConnection, map[string]any{"type": "CLOSE"})
	c.teardown()
}

// teardown cancels background tasks, closes TLS and fails pending waits.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		c.mu.Lock()
		c.connected = false
		c.transportID = ""
		c.mediaSessionID = 0
		c.mu.Unlock()
	})
}

func (c *Client) nextRequestID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestID++
	return c.requestID
}

func (c *Client) register() (uint64, chan map[string]any) {
	id := c.nextRequestID()
	ch := make(chan map[string]any, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return id, ch
}

func (c *Client) unregister(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// await blocks for the response correlated to id. Falls back to a fixed
// timeout when the peer never answers.
func (c *Client) await(ctx context.Context, id uint64, ch chan map[string]any) (map[string]any, error) {
	defer c.unregister(id)
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case payload, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		return payload, nil
	case <-timer.C:
		return nil, &Error{fmt.Sprintf("no response to request %d within %s", id, requestTimeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionLost
	}
}

// send serializes and writes one frame. Outbound writes are serialized so
// heartbeat PINGs never interleave with user messages mid-frame.
func (c *Client) send(destination, namespace string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &CastMessage{
		ProtocolVersion: 0,
		SourceID:        senderID,
		DestinationID:   destination,
		Namespace:       namespace,
		PayloadType:     PayloadString,
		PayloadUTF8:     string(body),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, msg)
}

// recvLoop reads frames until the channel dies and dispatches payloads
// in receive order.
func (c *Client) recvLoop() {
	for {
		msg, err := ReadFrame(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("castv2: channel read: %v", err)
			}
			c.teardown()
			return
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &payload); err != nil {
			log.Printf("castv2: bad payload on %s: %v", msg.Namespace, err)
			continue
		}
		c.dispatch(msg, payload)
	}
}

func (c *Client) dispatch(msg *CastMessage, payload map[string]any) {
	typ, _ := payload["type"].(string)
	switch typ {
	case "PING":
		// Devices ping too; answer on the heartbeat namespace.
		_ = c.send(msg.SourceID, NamespaceHeartbeat, map[string]any{"type": "PONG"})
	case "PONG":
		select {
		case c.pongCh() <- struct{}{}:
		default:
		}
	case "RECEIVER_STATUS":
		if transportID, sessionID := applicationIDs(payload); transportID != "" {
			c.mu.Lock()
			c.transportID = transportID
			c.sessionID = sessionID
			c.mu.Unlock()
		}
	case "MEDIA_STATUS":
		c.handleMediaStatus(payload)
	case "CLOSE":
		log.Printf("castv2: peer closed virtual connection")
		c.teardown()
		return
	default:
		log.Printf("castv2: ignoring %q on %s", typ, msg.Namespace)
	}
	if rid, ok := payload["requestId"].(float64); ok && rid > 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[uint64(rid)]
		if ok {
			delete(c.pending, uint64(rid))
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- payload
		}
	}
}

func (c *Client) handleMediaStatus(payload map[string]any) {
	statuses, _ := payload["status"].([]any)
	if len(statuses) == 0 {
		return
	}
	st, _ := statuses[0].(map[string]any)
	if st == nil {
		return
	}
	if msID, ok := st["mediaSessionId"].(float64); ok && msID != 0 {
		c.mu.Lock()
		c.mediaSessionID = msID
		c.mu.Unlock()
	}
	if c.OnPlayback == nil {
		return
	}
	position, _ := st["currentTime"].(float64)
	var duration float64
	if media, ok := st["media"].(map[string]any); ok {
		duration, _ = media["duration"].(float64)
	}
	state, _ := st["playerState"].(string)
	c.OnPlayback(position, duration, state == "PAUSED")
}

// pongCh lazily allocates the heartbeat notification channel.
func (c *Client) pongCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pong == nil {
		c.pong = make(chan struct{}, 1)
	}
	return c.pong
}

func (c *Client) heartbeatEvery() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return defaultHeartbeatInterval
}

func (c *Client) heartbeatLimit() time.Duration {
	if c.HeartbeatTimeout > 0 {
		return c.HeartbeatTimeout
	}
	return defaultHeartbeatTimeout
}

// heartbeatLoop sends PING every interval. If no PONG arrives within
// the silence limit the channel is declared lost: TLS is torn down, the
// heartbeat stops and in-flight operations fail with ErrConnectionLost.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatEvery())
	defer ticker.Stop()
	limit := c.heartbeatLimit()
	lastPong := time.Now()
	pong := c.pongCh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-pong:
			lastPong = time.Now()
		case <-ticker.C:
			if time.Since(lastPong) > limit {
				log.Printf("castv2: no PONG for %s, declaring channel lost", limit)
				metrics.HeartbeatLost.Inc()
				c.teardown()
				return
			}
			if err := c.send(receiverID, NamespaceHeartbeat, map[string]any{"type": "PING"}); err != nil {
				log.Printf("castv2: PING failed: %v", err)
				c.teardown()
				return
			}
		}
	}
}

// applicationIDs extracts transportId and sessionId of the first
// application in a RECEIVER_STATUS payload.
func applicationIDs(payload map[string]any) (transportID, sessionID string) {
	status, _ := payload["status"].(map[string]any)
	if status == nil {
		return "", ""
	}
	apps, _ := status["applications"].([]any)
	if len(apps) == 0 {
		return "", ""
	}
	app, _ := apps[0].(map[string]any)
	if app == nil {
		return "", ""
	}
	transportID, _ = app["transportId"].(string)
	sessionID, _ = app["sessionId"].(string)
	return transportID, sessionID
}

func firstMediaSessionID(payload map[string]any) float64 {
	statuses, _ := payload["status"].([]any)
	if len(statuses) == 0 {
		return 0
	}
	st, _ := statuses[0].(map[string]any)
	if st == nil {
		return 0
	}
	msID, _ := st["mediaSessionId"].(float64)
	return msID
}
