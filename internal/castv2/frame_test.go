package castv2

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestFrame_roundTrip(t *testing.T) {
	in := &CastMessage{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     NamespaceConnection,
		PayloadType:   PayloadString,
		PayloadUTF8:   `{"type":"CONNECT"}`,
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) < 4 {
		t.Fatalf("frame too short: %d bytes", len(raw))
	}
	if got := binary.BigEndian.Uint32(raw[:4]); int(got) != len(raw)-4 {
		t.Fatalf("length prefix = %d, body = %d bytes", got, len(raw)-4)
	}

	out, err := ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestReadFrame_rejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1))
	buf.WriteString(strings.Repeat("x", 16))

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("oversize frame: want error")
	}
}

func TestReadFrame_rejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(0))

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("zero-length frame: want error")
	}
}

func TestReadFrame_truncatedBody(t *testing.T) {
	in := &CastMessage{SourceID: "sender-0", Namespace: NamespaceHeartbeat, PayloadUTF8: `{"type":"PING"}`}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	raw := buf.Bytes()

	if _, err := ReadFrame(bytes.NewReader(raw[:len(raw)-2])); err == nil {
		t.Fatal("truncated body: want error")
	}
}
