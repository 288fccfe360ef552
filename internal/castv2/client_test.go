package castv2

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeReceiver is a minimal cast device: TLS listener, one channel,
// canned replies for LAUNCH and LOAD.
type fakeReceiver struct {
	ln net.Listener

	// mutePings suppresses PONG replies to simulate a dead device.
	mutePings atomic.Bool

	mu       sync.Mutex
	received []map[string]any
}

func newFakeReceiver(t *testing.T) *fakeReceiver {
	t.Helper()
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls.Listen: %v", err)
	}
	f := &fakeReceiver{ln: ln}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeReceiver) addr() (string, int) {
	tcp := f.ln.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

func (f *fakeReceiver) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		msg, err := ReadFrame(conn)
		if err != nil {
			return
		}
		var payload map[string]any
		if json.Unmarshal([]byte(msg.PayloadUTF8), &payload) != nil {
			continue
		}
		f.mu.Lock()
		f.received = append(f.received, payload)
		f.mu.Unlock()

		typ, _ := payload["type"].(string)
		switch typ {
		case "LAUNCH":
			f.reply(conn, msg.SourceID, NamespaceReceiver, map[string]any{
				"type":      "RECEIVER_STATUS",
				"requestId": payload["requestId"],
				"status": map[string]any{
					"applications": []any{
						map[string]any{
							"appId":       DefaultMediaReceiverAppID,
							"transportId": "web-1",
							"sessionId":   "session-1",
						},
					},
				},
			})
		case "LOAD":
			f.reply(conn, msg.SourceID, NamespaceMedia, map[string]any{
				"type":      "MEDIA_STATUS",
				"requestId": payload["requestId"],
				"status": []any{
					map[string]any{
						"mediaSessionId": float64(7),
						"playerState":    "PLAYING",
						"currentTime":    float64(0),
					},
				},
			})
		case "PING":
			if f.mutePings.Load() {
				continue
			}
			f.reply(conn, msg.SourceID, NamespaceHeartbeat, map[string]any{"type": "PONG"})
		}
	}
}

func (f *fakeReceiver) reply(conn net.Conn, destination, namespace string, payload map[string]any) {
	body, _ := json.Marshal(payload)
	WriteFrame(conn, &CastMessage{
		SourceID:      "receiver-0",
		DestinationID: destination,
		Namespace:     namespace,
		PayloadType:   PayloadString,
		PayloadUTF8:   string(body),
	})
}

// waitFor polls until a frame of the given type has been observed. The
// client's media commands are fire-and-forget, so the serve goroutine
// may not have read the frame by the time the command returns.
func (f *fakeReceiver) waitFor(t *testing.T, typ string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range f.messages() {
			if m["type"] == typ {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s observed within 2s", typ)
}

func (f *fakeReceiver) messages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.received))
	copy(out, f.received)
	return out
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "fake-cast-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestClient_connectLoadAndControl(t *testing.T) {
	f := newFakeReceiver(t)
	host, port := f.addr()

	c := &Client{Host: host, Port: port}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.LoadMedia(ctx, "http://192.168.1.2:9876/media/movie.mp4", 30); err != nil {
		t.Fatalf("LoadMedia: %v", err)
	}
	if err := c.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Seek(ctx, 120); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	f.waitFor(t, "PAUSE")
	f.waitFor(t, "SEEK")

	msgs := f.messages()

	var sawConnect, sawLaunch bool
	var load, pause map[string]any
	for _, m := range msgs {
		switch m["type"] {
		case "CONNECT":
			sawConnect = true
		case "LAUNCH":
			sawLaunch = true
			if m["appId"] != DefaultMediaReceiverAppID {
				t.Fatalf("LAUNCH appId = %v", m["appId"])
			}
		case "LOAD":
			load = m
		case "PAUSE":
			pause = m
		}
	}
	if !sawConnect || !sawLaunch {
		t.Fatalf("missing handshake messages: %+v", msgs)
	}
	if load == nil {
		t.Fatal("no LOAD observed")
	}
	if load["currentTime"] != float64(30) {
		t.Fatalf("LOAD currentTime = %v, want 30", load["currentTime"])
	}
	media, _ := load["media"].(map[string]any)
	if media["contentId"] != "http://192.168.1.2:9876/media/movie.mp4" {
		t.Fatalf("LOAD contentId = %v", media["contentId"])
	}
	if pause == nil {
		t.Fatal("no PAUSE observed")
	}
	if pause["mediaSessionId"] != float64(7) {
		t.Fatalf("PAUSE mediaSessionId = %v, want 7", pause["mediaSessionId"])
	}
}

func TestClient_requestIDsStrictlyIncrease(t *testing.T) {
	f := newFakeReceiver(t)
	host, port := f.addr()

	c := &Client{Host: host, Port: port}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	if err := c.LoadMedia(ctx, "http://host/media/f.mp4", 0); err != nil {
		t.Fatalf("LoadMedia: %v", err)
	}
	if err := c.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	f.waitFor(t, "PLAY")

	var last float64
	for _, m := range f.messages() {
		id, ok := m["requestId"].(float64)
		if !ok {
			continue
		}
		if id <= last {
			t.Fatalf("request ids not strictly increasing: %v after %v", id, last)
		}
		last = id
	}
	if last == 0 {
		t.Fatal("no request ids observed")
	}
}

func TestClient_heartbeatTimeoutTearsDownChannel(t *testing.T) {
	f := newFakeReceiver(t)
	f.mutePings.Store(true)
	host, port := f.addr()

	c := &Client{
		Host:              host,
		Port:              port,
		HeartbeatInterval: 25 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// An in-flight wait must fail once the silent peer is declared lost.
	id, ch := c.register()
	if _, err := c.await(ctx, id, ch); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("await on silent peer: %v, want ErrConnectionLost", err)
	}
	select {
	case <-c.done:
	default:
		t.Fatal("channel not torn down after heartbeat timeout")
	}
}

func TestClient_mediaCommandWithoutSession(t *testing.T) {
	c := &Client{}
	err := c.Play(context.Background())
	if err == nil {
		t.Fatal("Play without session: want error")
	}
	if _, ok := err.(*Error); !ok {
		t.Fatalf("error type %T, want *Error", err)
	}
}
