package session

import "errors"

// Sentinel errors mapped to HTTP status codes by the control server.
var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrNotCasting          = errors.New("Not currently casting")
	ErrUnknownAction       = errors.New("unknown action")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrInvalidAddress      = errors.New("invalid device address")
	ErrConnectionFailed    = errors.New("connection to device failed")
	ErrTimeout             = errors.New("device timed out")
)
