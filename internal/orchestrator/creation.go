package orchestrator

import (
	"context"
	"time"

	"github.com/doorbridge/doorbridge/internal/engine"
	"github.com/doorbridge/doorbridge/internal/push"
	"github.com/doorbridge/doorbridge/internal/store"
)

// handleStasisStart routes an application-start event to the doorphone
// creation step or the outbound settle step, based on the channel's
// appArgs (§4.5). A channel entering with no args is the doorphone leg;
// one entering with ("outgoing", bridgeId) is the outbound leg to the
// mobile client's tmp_ endpoint, created by TryOriginate.
func (o *Orchestrator) handleStasisStart(ctx context.Context, ev engine.Event) {
	if len(ev.Args) >= 2 && ev.Args[0] == "outgoing" {
		o.handleOutboundStart(ctx, ev.Args[1], ev.ChannelID)
		return
	}
	o.createCall(ctx, ev.ChannelID, ev.CallerNumber, ev.CallerName)
}

// createCall performs the composite creation step (§4.5): mint
// identifiers, create the ephemeral SIP endpoint, write the KV index
// records, build the bridge, add the doorphone channel, arm the
// registration/originate race, and dispatch the push. Every substep is
// idempotent-on-retry; failure at any point abandons the Call rather than
// attempting to unwind prior substeps (§9) — TTLs and the Janitor reach a
// clean state either way.
func (o *Orchestrator) createCall(ctx context.Context, channelID, callerNumber, callerName string) {
	log := o.logger().With("channel_id", channelID)

	callID := generateCallID()
	callToken := generateCallToken()
	endpointID := "tmp_" + callID
	password, err := generateSIPPassword()
	if err != nil {
		log.Error("generating sip password", "error", err)
		return
	}

	if err := o.store.CreateEphemeralEndpoint(ctx, store.EphemeralEndpoint{
		ID:         endpointID,
		Username:   endpointID,
		Password:   password,
		Context:    o.cfg.InboundContext,
		TemplateID: store.TemplateDomophone,
	}); err != nil {
		log.Error("creating ephemeral endpoint, abandoning call", "error", err)
		return
	}

	if err := o.answerOrHoldDoorphoneLeg(ctx, channelID); err != nil {
		log.Error("answering/holding doorphone channel, abandoning call", "error", err)
		return
	}

	call := CallRecord{
		CallID:       callID,
		CallToken:    callToken,
		ChannelID:    channelID,
		EndpointID:   endpointID,
		Username:     endpointID,
		Password:     password,
		CallerNumber: callerNumber,
		CallerName:   callerName,
		CreatedAt:    timeNow(),
	}
	if err := o.writeCallIndexRecords(ctx, call); err != nil {
		log.Error("writing kv index records, abandoning call", "error", err)
		return
	}

	bridgeID, err := o.engine.CreateMixingBridge(ctx)
	if err != nil {
		log.Error("creating mixing bridge, abandoning call", "error", err, "call_id", callID)
		return
	}
	if err := o.engine.AddChannel(ctx, bridgeID, channelID); err != nil {
		log.Error("adding doorphone channel to bridge, abandoning call", "error", err, "call_id", callID)
		return
	}

	call.BridgeID = bridgeID
	if err := o.kv.Set(ctx, callKey(callToken), call, o.cfg.CallTokenTTL); err != nil {
		log.Error("recording bridge id, abandoning call", "error", err, "call_id", callID)
		return
	}

	if err := o.kv.Set(ctx, originateKey(endpointID), OriginateRecord{BridgeID: bridgeID, ChannelID: channelID}, o.cfg.RingTimeout); err != nil {
		log.Error("writing pending-originate record, abandoning call", "error", err, "call_id", callID)
		return
	}

	payload := push.Payload{
		Type:         "SIP_CALL",
		CallID:       callID,
		CallerNumber: callerNumber,
		CallerName:   callerName,
		SIPCredentials: push.SIPCredentials{
			Username: endpointID,
			Password: password,
			Domain:   o.cfg.ServerDomain,
		},
	}
	if err := o.push.Dispatch(ctx, o.cfg.PushRecipient, payload); err != nil {
		log.Warn("push dispatch failed, ring timer will close the call if unanswered", "error", err, "call_id", callID)
	}

	o.armRingTimer(callToken, channelID)
	o.callsCreated.Add(1)
	log.Info("call created", "call_id", callID, "bridge_id", bridgeID, "endpoint_id", endpointID)
}

// answerOrHoldDoorphoneLeg implements the chosen resolution of the open
// question in §9: answer the doorphone leg immediately on StasisStart so
// the caller hears ringback/media from the moment the engine's dialplan
// routes them in, rather than leaving it parked on hold until a mobile
// client joins. This matches a street doorphone's expectation of an
// immediately live audio path (no SIP re-INVITE/hold tone is injected by
// the engine's bridge). See SPEC_FULL.md §4.5 for the rationale.
func (o *Orchestrator) answerOrHoldDoorphoneLeg(ctx context.Context, channelID string) error {
	return o.engine.Answer(ctx, channelID)
}

// writeCallIndexRecords writes the call:, channel:, and endpoint: records
// (§3) sharing callTokenTtlSec. Called before the bridge exists; the
// bridge id is filled in and the record rewritten once known.
func (o *Orchestrator) writeCallIndexRecords(ctx context.Context, call CallRecord) error {
	if err := o.kv.Set(ctx, callKey(call.CallToken), call, o.cfg.CallTokenTTL); err != nil {
		return err
	}
	if err := o.kv.Set(ctx, channelKey(call.ChannelID), ChannelRecord{CallToken: call.CallToken, EndpointID: call.EndpointID}, o.cfg.CallTokenTTL); err != nil {
		return err
	}
	if err := o.kv.Set(ctx, endpointKey(call.EndpointID), EndpointRecord{Kind: EndpointKindCall, Token: call.CallToken}, o.cfg.CallTokenTTL); err != nil {
		return err
	}
	return nil
}

// armRingTimer starts the Call's ring timer (§4.5, §9): if it fires
// before the call reaches BRIDGED, the doorphone channel is hung up and
// the KV records are left to expire by TTL.
func (o *Orchestrator) armRingTimer(callToken, channelID string) {
	stop := o.timers.arm(callToken)
	go func() {
		select {
		case <-stop:
			return
		case <-time.After(o.cfg.RingTimeout):
		}
		o.timers.clear(callToken)
		o.onRingTimeout(context.Background(), callToken, channelID)
	}()
}

// onRingTimeout re-verifies the call: record still exists before acting,
// since the race between the timer and a client /calls/end is resolved
// by whichever deletes/observes state first (§4.5).
func (o *Orchestrator) onRingTimeout(ctx context.Context, callToken, channelID string) {
	var call CallRecord
	if err := o.kv.Get(ctx, callKey(callToken), &call); err != nil {
		return
	}

	log := o.logger().With("call_token", callToken, "channel_id", channelID)
	o.ringTimeouts.Add(1)
	if err := o.engine.Hangup(ctx, channelID); err != nil {
		log.Warn("ring timeout hangup failed", "error", err)
	} else {
		log.Info("ring timeout, doorphone channel hung up")
	}
}

func timeNow() time.Time { return time.Now() }
