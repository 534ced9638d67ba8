package p2p

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	codecA := NewCodec(a)
	codecB := NewCodec(b)

	done := make(chan error, 1)
	go func() {
		done <- codecA.WriteFrame(MsgPing, PingPayload{Nonce: 42})
	}()

	frame, err := codecB.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if frame.Type != MsgPing {
		t.Fatalf("Type = %q, want %q", frame.Type, MsgPing)
	}
	if frame.Version != ProtocolVersion {
		t.Fatalf("Version = %d, want %d", frame.Version, ProtocolVersion)
	}

	var ping PingPayload
	if err := json.Unmarshal(frame.Payload, &ping); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ping.Nonce != 42 {
		t.Fatalf("Nonce = %d, want 42", ping.Nonce)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	codecB := NewCodec(b)
	go func() {
		var lenBuf [4]byte
		lenBuf[0] = 0xff
		lenBuf[1] = 0xff
		lenBuf[2] = 0xff
		lenBuf[3] = 0xff
		a.Write(lenBuf[:])
	}()

	if _, err := codecB.ReadFrame(2 * time.Second); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}
