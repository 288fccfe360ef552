package castv2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds one frame on the channel. Cast payloads are small
// JSON documents; anything larger is a corrupt or hostile peer.
const MaxFrameSize = 1 << 16

// WriteFrame serializes msg and writes the 4-byte big-endian length
// prefix plus body as a single Write so frames never interleave.
func WriteFrame(w io.Writer, msg *CastMessage) error {
	body := msg.Marshal()
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame and decodes it.
func ReadFrame(r io.Reader) (*CastMessage, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("castv2: bad frame length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Unmarshal(body)
}
