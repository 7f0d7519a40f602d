package orchestrator

import (
	"context"

	"github.com/doorbridge/doorbridge/internal/engine"
)

// offlineStates are EndpointStateChange states that never trigger an
// originate attempt; anything else (notably "online") does (§4.5).
var offlineStates = map[string]bool{
	"offline": true,
	"unknown": true,
}

// handleStasisEnd implements the "application-end of a channel" contract
// (§4.5): no explicit cleanup here — the Janitor and TTL expiry reach a
// clean state on their own. This keeps the event-stream reader from
// blocking on store writes for an event that carries no new information
// beyond "this leg is gone".
func (o *Orchestrator) handleStasisEnd(ctx context.Context, ev engine.Event) {
	o.logger().Debug("channel left application", "channel_id", ev.ChannelID)
}

// handleEndpointStateChange implements the registration-side trigger of
// the registration/originate race (§4.5, §9): if a pending-originate
// record exists for this endpoint and it just became reachable, issue the
// originate and delete the record on success so the fallback poller's
// next tick is a no-op.
func (o *Orchestrator) handleEndpointStateChange(ctx context.Context, ev engine.Event) {
	if offlineStates[ev.EndpointState] {
		return
	}
	o.TryOriginate(ctx, ev.EndpointID)
}

// TryOriginate is shared by the event-driven path and the Janitor's
// fallback poller (§4.6, §9): exactly one of the two will observe the
// originate: record and win, because it is deleted on success.
func (o *Orchestrator) TryOriginate(ctx context.Context, endpointID string) {
	var pending OriginateRecord
	if err := o.kv.Get(ctx, originateKey(endpointID), &pending); err != nil {
		return
	}

	log := o.logger().With("endpoint_id", endpointID, "bridge_id", pending.BridgeID)

	appArgs := "outgoing," + pending.BridgeID
	if _, err := o.engine.Originate(ctx, "PJSIP/"+endpointID, appArgs); err != nil {
		log.Warn("originate attempt failed, will retry", "error", err)
		return
	}

	if err := o.kv.Del(ctx, originateKey(endpointID)); err != nil {
		log.Warn("deleting pending-originate record after success", "error", err)
		return
	}
	o.originatesIssued.Add(1)
	log.Info("originate issued")
}
