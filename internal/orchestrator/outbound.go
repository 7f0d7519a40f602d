package orchestrator

import (
	"context"
	"time"
)

const (
	outboundSettleDelay = 200 * time.Millisecond
	outboundRetryDelay  = 500 * time.Millisecond
)

// handleOutboundStart implements the "application-start of an outbound
// leg" contract (§4.5): wait a short settle interval, add the channel to
// the named bridge (one retry on failure), then answer any still-
// unanswered counterpart leg already in the bridge.
func (o *Orchestrator) handleOutboundStart(ctx context.Context, bridgeID, channelID string) {
	log := o.logger().With("bridge_id", bridgeID, "channel_id", channelID)

	select {
	case <-ctx.Done():
		return
	case <-time.After(outboundSettleDelay):
	}

	if err := o.engine.AddChannel(ctx, bridgeID, channelID); err != nil {
		log.Warn("add-to-bridge failed, retrying once", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(outboundRetryDelay):
		}
		if err := o.engine.AddChannel(ctx, bridgeID, channelID); err != nil {
			log.Error("add-to-bridge failed after retry, abandoning outbound leg", "error", err)
			return
		}
	}

	o.answerUnansweredCounterpart(ctx, bridgeID, channelID)
}

// answerUnansweredCounterpart inspects bridge membership and answers any
// channel other than the one that just joined. For a counterpart that is a
// Call's doorphone leg, it also cancels that Call's ring timer, since the
// Call is now bridged. The engine reports a
// channel's answer state implicitly — answering an already-answered
// channel is a harmless no-op on the engine side, so no separate
// "is this answered" check is needed before calling Answer.
func (o *Orchestrator) answerUnansweredCounterpart(ctx context.Context, bridgeID, justJoinedChannelID string) {
	log := o.logger().With("bridge_id", bridgeID)

	bridge, err := o.engine.GetBridge(ctx, bridgeID)
	if err != nil {
		log.Warn("inspecting bridge membership failed", "error", err)
		return
	}

	for _, chID := range bridge.Channels {
		if chID == justJoinedChannelID {
			continue
		}
		var chRec ChannelRecord
		if err := o.kv.Get(ctx, channelKey(chID), &chRec); err == nil {
			o.timers.cancel(chRec.CallToken)
		}
		if err := o.engine.Answer(ctx, chID); err != nil {
			log.Warn("answering counterpart channel failed", "channel_id", chID, "error", err)
		}
	}
}
