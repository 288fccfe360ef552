package castv2

import (
	"errors"
	"fmt"
)

/*
 * CastMessage protobuf schema (field numbers are stable):
 *
 *   1  protocol_version  varint   (always 0)
 *   2  source_id         string
 *   3  destination_id    string
 *   4  namespace         string
 *   5  payload_type      varint   (0 = STRING)
 *   6  payload_utf8      string
 *
 * Only wire types 0 (varint) and 2 (length-delimited) appear on the
 * channel, so the codec is hand-rolled; unknown fields are skipped.
 */

// Payload types.
const (
	PayloadString = 0
	PayloadBinary = 1
)

// CastMessage is one unit on the CASTV2 channel.
type CastMessage struct {
	ProtocolVersion uint64
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     uint64
	PayloadUTF8     string
}

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

var errTruncated = errors.New("castv2: truncated message")

// AppendVarint appends v in protobuf varint encoding.
func AppendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// DecodeVarint decodes a varint from b, returning the value and the
// number of bytes consumed (0 when b is truncated or overlong).
func DecodeVarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if i == 10 {
			return 0, 0
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

func appendTag(b []byte, field, wire uint64) []byte {
	return AppendVarint(b, field<<3|wire)
}

func appendString(b []byte, field uint64, s string) []byte {
	b = appendTag(b, field, wireBytes)
	b = AppendVarint(b, uint64(len(s)))
	return append(b, s...)
}

// Marshal serializes the message. protocol_version and payload_type are
// always written so peers see an explicit version 0 / STRING payload.
func (m *CastMessage) Marshal() []byte {
	b := make([]byte, 0, 16+len(m.SourceID)+len(m.DestinationID)+len(m.Namespace)+len(m.PayloadUTF8))
	b = appendTag(b, 1, wireVarint)
	b = AppendVarint(b, m.ProtocolVersion)
	b = appendString(b, 2, m.SourceID)
	b = appendString(b, 3, m.DestinationID)
	b = appendString(b, 4, m.Namespace)
	b = appendTag(b, 5, wireVarint)
	b = AppendVarint(b, m.PayloadType)
	b = appendString(b, 6, m.PayloadUTF8)
	return b
}

// Unmarshal parses a serialized CastMessage. Unknown fields are skipped.
func Unmarshal(data []byte) (*CastMessage, error) {
	m := &CastMessage{}
	pos := 0
	for pos < len(data) {
		key, n := DecodeVarint(data[pos:])
		if n == 0 {
			return nil, errTruncated
		}
		pos += n
		field := key >> 3
		wire := key & 7
		switch wire {
		case wireVarint:
			v, n := DecodeVarint(data[pos:])
			if n == 0 {
				return nil, errTruncated
			}
			pos += n
			switch field {
			case 1:
				m.ProtocolVersion = v
			case 5:
				m.PayloadType = v
			}
		case wireBytes:
			l, n := DecodeVarint(data[pos:])
			if n == 0 {
				return nil, errTruncated
			}
			pos += n
			if uint64(len(data)-pos) < l {
				return nil, errTruncated
			}
			s := string(data[pos : pos+int(l)])
			pos += int(l)
			switch field {
			case 2:
				m.SourceID = s
			case 3:
				m.DestinationID = s
			case 4:
				m.Namespace = s
			case 6:
				m.PayloadUTF8 = s
			}
		case wireFixed64:
			if len(data)-pos < 8 {
				return nil, errTruncated
			}
			pos += 8
		case wireFixed32:
			if len(data)-pos < 4 {
				return nil, errTruncated
			}
			pos += 4
		default:
			return nil, fmt.Errorf("castv2: unsupported wire type %d", wire)
		}
	}
	return m, nil
}
