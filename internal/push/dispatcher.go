package push

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/doorbridge/doorbridge/internal/errs"
)

// TokenSource resolves the registered push targets for a user. It is
// satisfied by an adapter over the realtime store's push-token registry,
// kept here as a narrow interface so this package does not import store.
type TokenSource interface {
	ListPushTokens(ctx context.Context, userID string) ([]Target, error)
}

// Dispatcher batches a call-invite payload out to every push target
// registered for a user (§4.4). Failure is never fatal to the orchestrator:
// partial or total failure across the batch collapses into a single
// *errs.PushError carrying the attempted count and the first cause.
type Dispatcher struct {
	sender Sender
	tokens TokenSource

	sent   atomic.Int64
	failed atomic.Int64
}

// NewDispatcher creates a Dispatcher over sender and tokens.
func NewDispatcher(sender Sender, tokens TokenSource) *Dispatcher {
	return &Dispatcher{sender: sender, tokens: tokens}
}

// Dispatch sends payload to every push target registered for userID.
// Returns nil when every send succeeds or no target is registered. A
// lookup failure, or any failed send, returns a *errs.PushError; a failed
// send does not stop the remaining targets from being attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, payload Payload) error {
	targets, err := d.tokens.ListPushTokens(ctx, userID)
	if err != nil {
		return &errs.PushError{Count: 0, Cause: err}
	}
	if len(targets) == 0 {
		slog.Warn("no push targets registered", "user_id", userID, "call_id", payload.CallID)
		return nil
	}

	var firstErr error
	attempted := 0
	for _, t := range targets {
		attempted++
		if err := d.sender.Send(t.Platform, t.Token, payload); err != nil {
			d.failed.Add(1)
			slog.Warn("push delivery failed", "platform", t.Platform, "call_id", payload.CallID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.sent.Add(1)
		slog.Debug("push delivered", "platform", t.Platform, "call_id", payload.CallID)
	}

	if firstErr != nil {
		return &errs.PushError{Count: attempted, Cause: firstErr}
	}
	return nil
}

// Stats returns the cumulative sent/failed delivery counts since process
// start, for the metrics collector (§4.8).
func (d *Dispatcher) Stats() (sent, failed int64) {
	return d.sent.Load(), d.failed.Load()
}
