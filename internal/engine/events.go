package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// EventHandler receives decoded events off the stream. It must not block
// for long — the socket is single-consumer; long work belongs in an
// independent task (§5).
type EventHandler func(Event)

// StreamConfig configures the event-stream connection.
type StreamConfig struct {
	WebSocketURL string
	User         string
	Password     string
	AppName      string
}

// Stream is the self-healing event-stream reader (§4.1): on close or error
// it reconnects with exponential backoff, base 1s capped at 30s, resetting
// the attempt counter on the first successful reconnect.
type Stream struct {
	cfg StreamConfig
}

// NewStream creates a Stream. Run must be called to start reading.
func NewStream(cfg StreamConfig) *Stream {
	return &Stream{cfg: cfg}
}

// Run connects and delivers events to handler until ctx is canceled.
// Invalid payloads are dropped silently; connection errors trigger
// reconnection rather than returning.
func (s *Stream) Run(ctx context.Context, handler EventHandler) {
	b := newStreamBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectAndRead(ctx, handler, b.reset)
		if ctx.Err() != nil {
			return
		}

		delay := b.next()
		slog.Warn("event stream disconnected, reconnecting", "error", err, "retry_in", delay.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead dials the event stream once and reads frames until the
// connection errors or ctx is canceled. onConnected fires once the
// handshake succeeds, resetting the reconnect backoff.
func (s *Stream) connectAndRead(ctx context.Context, handler EventHandler, onConnected func()) error {
	u, err := url.Parse(s.cfg.WebSocketURL)
	if err != nil {
		return fmt.Errorf("parsing websocket url: %w", err)
	}
	q := u.Query()
	q.Set("app", s.cfg.AppName)
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": {basicAuthHeader(s.cfg.User, s.cfg.Password)},
		}),
	}

	conn, _, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close()

	onConnected()
	slog.Info("event stream connected")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("reading event stream: %w", err)
		}

		ev, ok := decodeEvent(msg)
		if !ok {
			continue
		}
		handler(ev)
	}
}

func basicAuthHeader(user, password string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, password)
	return req.Header.Get("Authorization")
}

// decodeEvent parses a raw event-stream message. Unrecognized or malformed
// payloads are dropped silently, per §4.1.
func decodeEvent(raw []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, false
	}

	switch w.Type {
	case string(EventStasisStart):
		if w.Channel == nil {
			return Event{}, false
		}
		ev := Event{Kind: EventStasisStart, ChannelID: w.Channel.ID, Args: w.Args}
		if w.Channel.Caller != nil {
			ev.CallerNumber = w.Channel.Caller.Number
			ev.CallerName = w.Channel.Caller.Name
		}
		return ev, true
	case string(EventStasisEnd):
		if w.Channel == nil {
			return Event{}, false
		}
		return Event{Kind: EventStasisEnd, ChannelID: w.Channel.ID}, true
	case string(EventEndpointStateChange):
		if w.Endpoint == nil {
			return Event{}, false
		}
		return Event{Kind: EventEndpointStateChange, EndpointID: w.Endpoint.Resource, EndpointState: w.Endpoint.State}, true
	default:
		return Event{}, false
	}
}

// streamBackoff is the event-stream's reconnect schedule: base 1s, capped
// at 30s, doubling per attempt, with jitter to avoid a thundering herd if
// many orchestrator instances reconnect together.
type streamBackoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newStreamBackoff() *streamBackoff {
	return &streamBackoff{baseDelay: time.Second, maxDelay: 30 * time.Second}
}

func (b *streamBackoff) next() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	b.attempt++

	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *streamBackoff) reset() {
	b.attempt = 0
}
