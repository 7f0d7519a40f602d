package orchestrator

import (
	"context"

	"github.com/doorbridge/doorbridge/internal/errs"
	"github.com/doorbridge/doorbridge/internal/store"
)

// Credentials is the client-facing view of a minted SIP identity.
type Credentials struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Domain       string `json:"domain"`
	CallerNumber string `json:"callerNumber,omitempty"`
	CallerName   string `json:"callerName,omitempty"`
}

// GetCredentials resolves callToken to the SIP credentials it was minted
// with (§4.5). Side-effect-free: the bridge and pending-originate record
// already exist from the creation step.
func (o *Orchestrator) GetCredentials(ctx context.Context, callToken string) (Credentials, error) {
	var call CallRecord
	if err := o.kv.Get(ctx, callKey(callToken), &call); err != nil {
		return Credentials{}, &errs.NotFound{Resource: "call", Key: callToken}
	}
	return Credentials{
		Username:     call.Username,
		Password:     call.Password,
		Domain:       o.cfg.ServerDomain,
		CallerNumber: call.CallerNumber,
		CallerName:   call.CallerName,
	}, nil
}

// EndCall hangs up the doorphone channel associated with callToken and
// cancels its ring timer (§4.5). Unlike the engine-triggered cleanup paths
// (ring timeout, application-end), which rely on TTL expiry rather than an
// explicit delete, an explicit client end/reject deletes the call: record
// immediately — that is what makes a second identical call observe a
// deterministic 404 instead of re-accepting the same end request.
func (o *Orchestrator) EndCall(ctx context.Context, callToken string) error {
	var call CallRecord
	if err := o.kv.Get(ctx, callKey(callToken), &call); err != nil {
		return &errs.NotFound{Resource: "call", Key: callToken}
	}

	o.timers.cancel(callToken)

	if err := o.kv.Del(ctx, callKey(callToken)); err != nil {
		return &errs.StoreError{Op: "orchestrator.EndCall", Err: err}
	}

	log := o.logger().With("call_token", callToken, "channel_id", call.ChannelID)
	if err := o.engine.Hangup(ctx, call.ChannelID); err != nil {
		if engErr, ok := err.(*errs.EngineError); ok && engErr.NotGone() {
			log.Debug("channel already gone")
		} else {
			log.Warn("hangup on client end/reject failed", "error", err)
		}
	}
	return nil
}

// OutgoingCredentialsResult is the response to a client-initiated outbound
// mint request.
type OutgoingCredentialsResult struct {
	OutgoingToken string
	Credentials   Credentials
}

// MintOutgoingCredentials creates an out_… endpoint for a client-initiated
// call (§4.5). The endpoint is not bound to any bridge or channel yet —
// that binding happens out-of-band, once the mobile client registers and
// the engine's dialplan routes the resulting call — so only the endpoint
// and the outgoing: KV record are written here.
func (o *Orchestrator) MintOutgoingCredentials(ctx context.Context) (OutgoingCredentialsResult, error) {
	outgoingToken := generateCallToken()
	endpointID := "out_" + generateCallID()
	password, err := generateSIPPassword()
	if err != nil {
		return OutgoingCredentialsResult{}, &errs.StoreError{Op: "orchestrator.MintOutgoingCredentials", Err: err}
	}

	if err := o.store.CreateEphemeralEndpoint(ctx, store.EphemeralEndpoint{
		ID:         endpointID,
		Username:   endpointID,
		Password:   password,
		Context:    o.cfg.OutboundContext,
		TemplateID: store.TemplateClient,
	}); err != nil {
		return OutgoingCredentialsResult{}, err
	}

	record := OutgoingRecord{EndpointID: endpointID, Username: endpointID, Password: password}
	if err := o.kv.Set(ctx, outgoingKey(outgoingToken), record, o.cfg.CallTokenTTL); err != nil {
		return OutgoingCredentialsResult{}, &errs.StoreError{Op: "orchestrator.MintOutgoingCredentials", Err: err}
	}
	if err := o.kv.Set(ctx, endpointKey(endpointID), EndpointRecord{Kind: EndpointKindOutgoing, Token: outgoingToken}, o.cfg.CallTokenTTL); err != nil {
		return OutgoingCredentialsResult{}, &errs.StoreError{Op: "orchestrator.MintOutgoingCredentials", Err: err}
	}

	return OutgoingCredentialsResult{
		OutgoingToken: outgoingToken,
		Credentials:   Credentials{Username: endpointID, Password: password, Domain: o.cfg.ServerDomain},
	}, nil
}

// CleanupOutgoing deletes the ephemeral endpoint minted for outgoingToken
// and its KV records (§4.5's "symmetric cleanup endpoint"). A missing
// token is an explicit not-found.
func (o *Orchestrator) CleanupOutgoing(ctx context.Context, outgoingToken string) error {
	var record OutgoingRecord
	if err := o.kv.Get(ctx, outgoingKey(outgoingToken), &record); err != nil {
		return &errs.NotFound{Resource: "outgoing", Key: outgoingToken}
	}

	if err := o.kv.Del(ctx, outgoingKey(outgoingToken)); err != nil {
		return &errs.StoreError{Op: "orchestrator.CleanupOutgoing", Err: err}
	}
	_ = o.kv.Del(ctx, endpointKey(record.EndpointID))

	if err := o.store.DeleteEphemeralEndpoint(ctx, record.EndpointID); err != nil {
		o.logger().Warn("deleting outgoing endpoint rows failed, janitor will reconcile", "endpoint_id", record.EndpointID, "error", err)
	}
	return nil
}
