package session

import "context"

// Client is the protocol-neutral surface the coordinator drives. Each
// protocol package implements it against its own transport; playback
// progress flows back through a callback wired up at construction, not
// through this interface.
type Client interface {
	Connect(ctx context.Context) error
	LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	Stop(ctx context.Context) error
	SetVolume(ctx context.Context, level int) error
	Disconnect()
}
