// Package janitor runs the two periodic reconciliation tasks described in
// §4.6: a stale-endpoint sweep that garbage-collects realtime rows whose
// KV lease has expired, and a pending-originate retry loop that is the
// second of the registration/originate race's two independent triggers.
package janitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/doorbridge/doorbridge/internal/kv"
	"github.com/doorbridge/doorbridge/internal/orchestrator"
)

const (
	sweepInterval       = 60 * time.Second
	originateRetryTicks = 2 * time.Second
)

// RealtimeLister is the subset of store.Store the sweep needs.
type RealtimeLister interface {
	ListEphemeralEndpoints(ctx context.Context) ([]string, error)
	DeleteEphemeralEndpoint(ctx context.Context, id string) error
}

// Originator is the subset of orchestrator.Orchestrator the retry loop
// needs: the same entry point the endpoint-state-change event handler
// uses, so exactly one of the two triggers wins per pending originate.
type Originator interface {
	TryOriginate(ctx context.Context, endpointID string)
}

// Janitor owns the two background loops. Both are safe to run
// concurrently with the event handler: KV records are single-writer
// leases, so a sweep and an event handler racing over the same id only
// ever agree on the outcome.
type Janitor struct {
	kv    kv.Store
	store RealtimeLister
	orch  Originator

	sweepDeletions atomic.Int64
	retryAttempts  atomic.Int64
}

// Stats returns cumulative counts since process start, for the metrics
// collector (§4.8).
func (j *Janitor) Stats() (sweepDeletions, retryAttempts int64) {
	return j.sweepDeletions.Load(), j.retryAttempts.Load()
}

// New creates a Janitor wired to its dependencies.
func New(kvStore kv.Store, realtimeStore RealtimeLister, orch Originator) *Janitor {
	return &Janitor{kv: kvStore, store: realtimeStore, orch: orch}
}

// Run starts both loops and blocks until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	go j.sweepLoop(ctx)
	go j.retryLoop(ctx)
	<-ctx.Done()
}

func (j *Janitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepStaleEndpoints(ctx)
		}
	}
}

func (j *Janitor) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(originateRetryTicks)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.retryPendingOriginates(ctx)
		}
	}
}

// sweepStaleEndpoints implements §4.6's first task: for each disposable
// endpoint row, delete it if its KV lease has expired, or if the lease
// exists but the token record it references no longer does.
func (j *Janitor) sweepStaleEndpoints(ctx context.Context) {
	ids, err := j.store.ListEphemeralEndpoints(ctx)
	if err != nil {
		slog.Warn("janitor: listing ephemeral endpoints failed", "error", err)
		return
	}

	for _, id := range ids {
		var rec endpointRecord
		err := j.kv.Get(ctx, "endpoint:"+id, &rec)
		switch {
		case err == kv.ErrNotFound:
			j.deleteStale(ctx, id, "endpoint lease expired")
		case err != nil:
			slog.Warn("janitor: endpoint lookup failed", "endpoint_id", id, "error", err)
		default:
			if !j.tokenRecordExists(ctx, rec) {
				j.deleteStale(ctx, id, "token record gone")
			}
		}
	}
}

// tokenRecordExists checks whether the call: or outgoing: record rec.Token
// points to is still live, per the endpoint: record's declared kind.
func (j *Janitor) tokenRecordExists(ctx context.Context, rec endpointRecord) bool {
	key := "call:" + rec.Token
	if rec.Kind == string(orchestrator.EndpointKindOutgoing) {
		key = "outgoing:" + rec.Token
	}
	ok, err := j.kv.Exists(ctx, key)
	if err != nil {
		slog.Warn("janitor: token existence check failed", "error", err)
		return true // don't delete on an inconclusive check
	}
	return ok
}

func (j *Janitor) deleteStale(ctx context.Context, endpointID, reason string) {
	if err := j.store.DeleteEphemeralEndpoint(ctx, endpointID); err != nil {
		slog.Warn("janitor: deleting stale endpoint failed", "endpoint_id", endpointID, "error", err)
		return
	}
	j.sweepDeletions.Add(1)
	slog.Info("janitor: deleted stale endpoint", "endpoint_id", endpointID, "reason", reason)
}

// retryPendingOriginates implements §4.6's second task and §9's
// at-least-one-trigger requirement: for every disposable endpoint, attempt
// the pending originate. TryOriginate is itself a no-op if no
// originate: record exists or the attempt fails; failures are swallowed
// here so one stuck endpoint never stalls the rest of the sweep.
func (j *Janitor) retryPendingOriginates(ctx context.Context) {
	ids, err := j.store.ListEphemeralEndpoints(ctx)
	if err != nil {
		slog.Warn("janitor: listing ephemeral endpoints for retry failed", "error", err)
		return
	}
	for _, id := range ids {
		j.orch.TryOriginate(ctx, id)
		j.retryAttempts.Add(1)
	}
}

// endpointRecord mirrors orchestrator.EndpointRecord's wire shape. It is
// decoded locally; only the orchestrator.EndpointKindOutgoing constant is
// taken from the orchestrator package.
type endpointRecord struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
}
