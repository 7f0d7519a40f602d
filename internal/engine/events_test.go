package engine

import (
	"testing"
	"time"
)

func TestDecodeEventStasisStart(t *testing.T) {
	raw := []byte(`{"type":"StasisStart","channel":{"id":"CH1"},"args":["outgoing","B1"]}`)
	ev, ok := decodeEvent(raw)
	if !ok {
		t.Fatal("decodeEvent returned ok=false")
	}
	if ev.Kind != EventStasisStart || ev.ChannelID != "CH1" {
		t.Errorf("ev = %+v", ev)
	}
	if len(ev.Args) != 2 || ev.Args[0] != "outgoing" || ev.Args[1] != "B1" {
		t.Errorf("Args = %v", ev.Args)
	}
}

func TestDecodeEventEndpointStateChange(t *testing.T) {
	raw := []byte(`{"type":"EndpointStateChange","endpoint":{"resource":"tmp_abc","state":"online"}}`)
	ev, ok := decodeEvent(raw)
	if !ok {
		t.Fatal("decodeEvent returned ok=false")
	}
	if ev.Kind != EventEndpointStateChange || ev.EndpointID != "tmp_abc" || ev.EndpointState != "online" {
		t.Errorf("ev = %+v", ev)
	}
}

func TestDecodeEventUnknownTypeDropped(t *testing.T) {
	raw := []byte(`{"type":"ChannelVarset","channel":{"id":"CH1"}}`)
	if _, ok := decodeEvent(raw); ok {
		t.Error("decodeEvent should drop unrecognized event types")
	}
}

func TestDecodeEventMalformedJSONDropped(t *testing.T) {
	if _, ok := decodeEvent([]byte(`not json`)); ok {
		t.Error("decodeEvent should drop malformed payloads")
	}
}

func TestDecodeEventMissingChannelDropped(t *testing.T) {
	raw := []byte(`{"type":"StasisStart"}`)
	if _, ok := decodeEvent(raw); ok {
		t.Error("decodeEvent should drop StasisStart with no channel")
	}
}

func TestStreamBackoffDoublesAndCaps(t *testing.T) {
	base := int64(1000)
	b := &streamBackoff{baseDelay: time.Duration(base), maxDelay: time.Duration(base * 8)}
	// Jitter is +/-20%, so assert on bounds rather than exact values.
	for i, want := range []int64{base, base * 2, base * 4, base * 8, base * 8} {
		d := b.next()
		lo := int64(float64(want) * 0.75)
		hi := int64(float64(want) * 1.25)
		if int64(d) < lo || int64(d) > hi {
			t.Errorf("attempt %d: next() = %v, want in [%d,%d]", i, d, lo, hi)
		}
	}
}

func TestStreamBackoffReset(t *testing.T) {
	b := newStreamBackoff()
	b.next()
	b.next()
	b.reset()
	if b.attempt != 0 {
		t.Errorf("attempt after reset = %d, want 0", b.attempt)
	}
}
