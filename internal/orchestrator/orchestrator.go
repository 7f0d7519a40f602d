package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/doorbridge/doorbridge/internal/engine"
	"github.com/doorbridge/doorbridge/internal/kv"
	"github.com/doorbridge/doorbridge/internal/push"
	"github.com/doorbridge/doorbridge/internal/store"
	"github.com/google/uuid"
)

// EngineClient is the subset of engine.Client the orchestrator drives.
// Declared as an interface so tests can substitute a fake without
// standing up an HTTP server.
type EngineClient interface {
	CreateMixingBridge(ctx context.Context) (string, error)
	AddChannel(ctx context.Context, bridgeID, channelID string) error
	GetBridge(ctx context.Context, bridgeID string) (*engine.Bridge, error)
	DeleteBridge(ctx context.Context, bridgeID string) error
	Originate(ctx context.Context, endpoint string, appArgs string) (*engine.Channel, error)
	Answer(ctx context.Context, channelID string) error
	Hold(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
}

// RealtimeStore is the subset of store.Store the orchestrator writes on
// Call creation and cleanup.
type RealtimeStore interface {
	CreateEphemeralEndpoint(ctx context.Context, p store.EphemeralEndpoint) error
	DeleteEphemeralEndpoint(ctx context.Context, id string) error
}

// PushDispatcher is the subset of push.Dispatcher the orchestrator calls
// on Call creation.
type PushDispatcher interface {
	Dispatch(ctx context.Context, userID string, payload push.Payload) error
}

// Config holds the orchestrator's domain parameters, a narrow subset of
// the process-wide config (§6).
type Config struct {
	ServerDomain    string
	AppName         string
	CallTokenTTL    time.Duration
	RingTimeout     time.Duration
	PushRecipient   string
	InboundContext  string
	OutboundContext string
}

// Orchestrator is the per-call state machine (§4.5, C6). It holds no
// call-keyed state of its own beyond the ring-timer scheduling map, which
// is a pure lookaside: every timer fire re-checks the KV store before
// acting, so losing the map (e.g. on restart) only means a missed local
// optimization, never incorrect behavior.
type Orchestrator struct {
	cfg    Config
	engine EngineClient
	kv     kv.Store
	store  RealtimeStore
	push   PushDispatcher

	timers *timerSet

	callsCreated     atomic.Int64
	originatesIssued atomic.Int64
	ringTimeouts     atomic.Int64
}

// Stats returns cumulative counts since process start, for the metrics
// collector (§4.8).
func (o *Orchestrator) Stats() (callsCreated, originatesIssued, ringTimeouts int64) {
	return o.callsCreated.Load(), o.originatesIssued.Load(), o.ringTimeouts.Load()
}

// New creates an Orchestrator wired to its dependencies.
func New(cfg Config, engineClient EngineClient, kvStore kv.Store, realtimeStore RealtimeStore, dispatcher PushDispatcher) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		engine: engineClient,
		kv:     kvStore,
		store:  realtimeStore,
		push:   dispatcher,
		timers: newTimerSet(),
	}
}

// HandleEvent dispatches a decoded engine event to the appropriate
// per-event contract handler (§4.5). It is the single entry point the
// event-stream reader calls; handlers themselves must not block it for
// long (§5) — origination retries and cleanup proceed on the calling
// goroutine since the engine event stream channel multiplexes many
// concurrent calls and each handler's own I/O is already bounded by HTTP
// timeouts.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev engine.Event) {
	switch ev.Kind {
	case engine.EventStasisStart:
		o.handleStasisStart(ctx, ev)
	case engine.EventStasisEnd:
		o.handleStasisEnd(ctx, ev)
	case engine.EventEndpointStateChange:
		o.handleEndpointStateChange(ctx, ev)
	}
}

// generateCallID mints an opaque call identifier.
func generateCallID() string {
	return uuid.NewString()
}

// generateCallToken mints an opaque call token distinct from callId, so
// leaking one identifier in a log line never exposes the other.
func generateCallToken() string {
	return uuid.NewString()
}

// generateSIPPassword mints a random SIP auth password with at least 64
// bits of entropy (§3), base32-encoded so it is safe to place directly in
// SIP credential fields without escaping.
func generateSIPPassword() (string, error) {
	buf := make([]byte, 10) // 80 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating sip password: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func (o *Orchestrator) logger() *slog.Logger {
	return slog.Default().With("subsystem", "orchestrator")
}
