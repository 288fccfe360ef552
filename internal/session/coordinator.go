package session

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/castbridge/cast-bridge/internal/airplay"
	"github.com/castbridge/cast-bridge/internal/castv2"
	"github.com/castbridge/cast-bridge/internal/device"
	"github.com/castbridge/cast-bridge/internal/dlna"
	"github.com/castbridge/cast-bridge/internal/metrics"
)

// Session states surfaced in /status.
const (
	StateConnecting = "connecting"
	StateBuffering  = "buffering"
	StatePlaying    = "playing"
	StatePaused     = "paused"
	StateStopped    = "stopped"
	StateError      = "error"
)

// Session is one live casting session.
type Session struct {
	Device    device.Device
	MediaURL  string
	StartedAt time.Time

	client Client
}

// Status is the JSON snapshot returned by /status.
type Status struct {
	Casting    bool    `json:"casting"`
	DeviceID   string  `json:"deviceId,omitempty"`
	DeviceName string  `json:"deviceName,omitempty"`
	MediaURL   string  `json:"mediaUrl,omitempty"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Paused     bool    `json:"paused"`
	State      string  `json:"state"`
}

// Coordinator owns the single active session. Lifecycle operations
// (Start, Stop, Control) serialize on mu; the playback cache has its
// own lock because protocol clients report progress from their own
// goroutines while a lifecycle call may be blocked mid-handshake.
type Coordinator struct {
	Directory *device.Directory

	// NewClient overrides protocol client construction in tests.
	NewClient func(d device.Device, onPlayback func(pos, dur float64, paused bool)) (Client, error)

	mu      sync.Mutex
	current *Session

	pbMu     sync.Mutex
	position float64
	duration float64
	paused   bool
	state    string
}

// Start connects to the device and loads mediaURL, replacing any
// session already in flight. On failure no session remains.
func (c *Coordinator) Start(ctx context.Context, deviceID, mediaURL string, startPosition float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The session in flight ends before the new target is even looked
	// up, so a bad deviceId never leaves stale playback running.
	if c.current != nil {
		c.stopLocked(ctx)
	}

	d, ok := c.Directory.Get(deviceID)
	if !ok {
		return ErrDeviceNotFound
	}

	c.setPlayback(startPosition, 0, false, StateConnecting)

	client, err := c.newClientFor(d)
	if err != nil {
		metrics.SessionFailures.WithLabelValues(string(d.Type)).Inc()
		c.setPlayback(0, 0, false, StateError)
		return err
	}

	if err := client.Connect(ctx); err != nil {
		client.Disconnect()
		metrics.SessionFailures.WithLabelValues(string(d.Type)).Inc()
		c.setPlayback(0, 0, false, StateError)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.setPlayback(startPosition, 0, false, StateBuffering)

	if err := client.LoadMedia(ctx, mediaURL, startPosition); err != nil {
		client.Disconnect()
		metrics.SessionFailures.WithLabelValues(string(d.Type)).Inc()
		c.setPlayback(0, 0, false, StateError)
		return err
	}

	c.current = &Session{
		Device:    d,
		MediaURL:  mediaURL,
		StartedAt: time.Now(),
		client:    client,
	}
	c.setPlayback(startPosition, 0, false, StatePlaying)
	metrics.SessionsStarted.WithLabelValues(string(d.Type)).Inc()
	log.Printf("session: casting %s to %s %q", mediaURL, d.Type, d.Name)
	return nil
}

// Control dispatches one uniform playback command to the live session.
func (c *Coordinator) Control(ctx context.Context, action string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNotCasting
	}
	client := c.current.client

	switch action {
	case "play":
		if err := client.Play(ctx); err != nil {
			return err
		}
		c.setPaused(false)
		c.setState(StatePlaying)
	case "pause":
		if err := client.Pause(ctx); err != nil {
			return err
		}
		c.setPaused(true)
		c.setState(StatePaused)
	case "seek":
		if err := client.Seek(ctx, value); err != nil {
			return err
		}
		c.setPosition(value)
	case "volume":
		level := int(math.Round(math.Min(100, math.Max(0, value))))
		return client.SetVolume(ctx, level)
	case "stop":
		c.stopLocked(ctx)
	default:
		return ErrUnknownAction
	}
	return nil
}

// Stop ends the live session, if any. Stopping when nothing is casting
// is not an error.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(ctx)
}

func (c *Coordinator) stopLocked(ctx context.Context) {
	if c.current == nil {
		return
	}
	s := c.current
	c.current = nil
	if err := s.client.Stop(ctx); err != nil {
		log.Printf("session: stop %s %q: %v", s.Device.Type, s.Device.Name, err)
	}
	s.client.Disconnect()
	c.setPlayback(0, 0, false, StateStopped)
	log.Printf("session: stopped casting to %s %q", s.Device.Type, s.Device.Name)
}

// Status returns a snapshot of the live session without blocking on
// lifecycle operations longer than the lifecycle lock itself.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	c.pbMu.Lock()
	defer c.pbMu.Unlock()

	st := Status{
		Position: c.position,
		Duration: c.duration,
		Paused:   c.paused,
		State:    c.state,
	}
	if st.State == "" {
		st.State = StateStopped
	}
	if s != nil {
		st.Casting = true
		st.DeviceID = s.Device.ID
		st.DeviceName = s.Device.Name
		st.MediaURL = s.MediaURL
	}
	return st
}

func (c *Coordinator) newClientFor(d device.Device) (Client, error) {
	if d.Address == "" {
		return nil, ErrInvalidAddress
	}
	if c.NewClient != nil {
		return c.NewClient(d, c.onPlayback)
	}
	switch d.Type {
	case device.TypeChromecast:
		return &castv2.Client{Host: d.Address, Port: d.Port, OnPlayback: c.onPlayback}, nil
	case device.TypeDLNA:
		if d.DescriptionURL == "" {
			return nil, ErrInvalidAddress
		}
		return &dlna.Client{DescriptionURL: d.DescriptionURL, OnPlayback: c.onPlayback}, nil
	case device.TypeAirPlay:
		return &airplay.Client{Host: d.Address, Port: d.Port, OnPlayback: c.onPlayback}, nil
	default:
		return nil, ErrUnsupportedProtocol
	}
}

// onPlayback is called from protocol client goroutines; it must never
// touch mu.
func (c *Coordinator) onPlayback(position, duration float64, paused bool) {
	c.pbMu.Lock()
	defer c.pbMu.Unlock()
	c.position = position
	if duration > 0 {
		c.duration = duration
	}
	c.paused = paused
	if c.state == StatePlaying || c.state == StatePaused || c.state == StateBuffering {
		if paused {
			c.state = StatePaused
		} else {
			c.state = StatePlaying
		}
	}
}

func (c *Coordinator) setPlayback(pos, dur float64, paused bool, state string) {
	c.pbMu.Lock()
	c.position = pos
	c.duration = dur
	c.paused = paused
	c.state = state
	c.pbMu.Unlock()
}

func (c *Coordinator) setPosition(pos float64) {
	c.pbMu.Lock()
	c.position = pos
	c.pbMu.Unlock()
}

func (c *Coordinator) setPaused(paused bool) {
	c.pbMu.Lock()
	c.paused = paused
	c.pbMu.Unlock()
}

func (c *Coordinator) setState(state string) {
	c.pbMu.Lock()
	c.state = state
	c.pbMu.Unlock()
}
