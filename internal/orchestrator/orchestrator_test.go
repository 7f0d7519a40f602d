package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/doorbridge/doorbridge/internal/engine"
	"github.com/doorbridge/doorbridge/internal/kv"
)

func newTestOrchestrator() (*Orchestrator, *fakeEngine, *fakeRealtimeStore, *fakeDispatcher, *kv.Fake) {
	eng := newFakeEngine()
	st := &fakeRealtimeStore{}
	disp := &fakeDispatcher{}
	store := kv.NewFake()
	o := New(testConfig(), eng, store, st, disp)
	return o, eng, st, disp, store
}

func TestCreateCallHappyPath(t *testing.T) {
	o, eng, st, disp, kvs := newTestOrchestrator()
	ctx := context.Background()

	o.HandleEvent(ctx, engine.Event{Kind: engine.EventStasisStart, ChannelID: "CH1"})

	if len(eng.bridges) != 1 {
		t.Fatalf("bridges = %v, want exactly one", eng.bridges)
	}
	var bridgeID string
	for id := range eng.bridges {
		bridgeID = id
	}
	if len(eng.bridges[bridgeID]) != 1 || eng.bridges[bridgeID][0] != "CH1" {
		t.Errorf("bridge members = %v, want [CH1]", eng.bridges[bridgeID])
	}
	if disp.count() != 1 {
		t.Errorf("dispatched = %d, want 1", disp.count())
	}
	if len(st.created) != 1 || st.created[0].TemplateID != "tpl_domophone" {
		t.Errorf("created endpoints = %v", st.created)
	}
	if len(eng.answered) != 1 || eng.answered[0] != "CH1" {
		t.Errorf("answered = %v, want [CH1]", eng.answered)
	}

	endpointID := st.created[0].ID
	var originate OriginateRecord
	if err := kvs.Get(ctx, "originate:"+endpointID, &originate); err != nil {
		t.Fatalf("originate record missing: %v", err)
	}
	if originate.BridgeID != bridgeID {
		t.Errorf("originate.BridgeID = %q, want %q", originate.BridgeID, bridgeID)
	}

	// Endpoint comes online: originate should fire exactly once.
	o.HandleEvent(ctx, engine.Event{Kind: engine.EventEndpointStateChange, EndpointID: endpointID, EndpointState: "online"})
	if eng.originateCount() != 1 {
		t.Errorf("originateCount = %d, want 1", eng.originateCount())
	}
	if err := kvs.Get(ctx, "originate:"+endpointID, &originate); err != kv.ErrNotFound {
		t.Errorf("originate record should be deleted after success, err = %v", err)
	}

	// A second online event must be a no-op (record already gone).
	o.HandleEvent(ctx, engine.Event{Kind: engine.EventEndpointStateChange, EndpointID: endpointID, EndpointState: "online"})
	if eng.originateCount() != 1 {
		t.Errorf("originateCount after duplicate event = %d, want 1", eng.originateCount())
	}

	// Outbound leg joins the bridge.
	o.HandleEvent(ctx, engine.Event{Kind: engine.EventStasisStart, ChannelID: "CH-out", Args: []string{"outgoing", bridgeID}})
	time.Sleep(outboundSettleDelay + 50*time.Millisecond)
	if len(eng.bridges[bridgeID]) != 2 {
		t.Errorf("bridge members after outbound join = %v, want 2 entries", eng.bridges[bridgeID])
	}
}

func TestEndpointOfflineStateIgnored(t *testing.T) {
	o, eng, st, _, _ := newTestOrchestrator()
	ctx := context.Background()
	o.HandleEvent(ctx, engine.Event{Kind: engine.EventStasisStart, ChannelID: "CH1"})
	o.HandleEvent(ctx, engine.Event{Kind: engine.EventEndpointStateChange, EndpointID: st.created[0].ID, EndpointState: "offline"})
	if eng.originateCount() != 0 {
		t.Errorf("originateCount = %d, want 0 for offline state", eng.originateCount())
	}
}

func TestRingTimeoutHangsUpDoorphoneChannel(t *testing.T) {
	eng := newFakeEngine()
	st := &fakeRealtimeStore{}
	disp := &fakeDispatcher{}
	kvs := kv.NewFake()
	cfg := testConfig()
	cfg.RingTimeout = 30 * time.Millisecond
	o := New(cfg, eng, kvs, st, disp)
	ctx := context.Background()

	o.HandleEvent(ctx, engine.Event{Kind: engine.EventStasisStart, ChannelID: "CH1"})
	time.Sleep(80 * time.Millisecond)

	found := false
	for _, id := range eng.hungUp {
		if id == "CH1" {
			found = true
		}
	}
	if !found {
		t.Errorf("hungUp = %v, want to contain CH1", eng.hungUp)
	}
}

func TestEndCallCancelsRingTimerAndHangsUp(t *testing.T) {
	eng := newFakeEngine()
	st := &fakeRealtimeStore{}
	disp := &fakeDispatcher{}
	kvs := kv.NewFake()
	cfg := testConfig()
	cfg.RingTimeout = 50 * time.Millisecond
	o := New(cfg, eng, kvs, st, disp)
	ctx := context.Background()

	o.HandleEvent(ctx, engine.Event{Kind: engine.EventStasisStart, ChannelID: "CH1"})

	var callToken string
	for _, key := range kvs.Keys() {
		if len(key) > 5 && key[:5] == "call:" {
			callToken = key[5:]
		}
	}
	if callToken == "" {
		t.Fatal("no call: record found")
	}

	if err := o.EndCall(ctx, callToken); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if len(eng.hungUp) != 1 || eng.hungUp[0] != "CH1" {
		t.Errorf("hungUp = %v, want [CH1]", eng.hungUp)
	}

	if err := o.EndCall(ctx, callToken); err == nil {
		t.Error("second EndCall returned nil, want not-found")
	}

	// Ring timer must not fire a second hangup after cancellation.
	time.Sleep(100 * time.Millisecond)
	if len(eng.hungUp) != 1 {
		t.Errorf("hungUp after ring timer window = %v, want still [CH1]", eng.hungUp)
	}
}

func TestGetCredentialsNotFound(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator()
	if _, err := o.GetCredentials(context.Background(), "does-not-exist"); err == nil {
		t.Error("GetCredentials for unknown token returned nil error")
	}
}

func TestMintAndCleanupOutgoingCredentials(t *testing.T) {
	o, _, st, _, _ := newTestOrchestrator()
	ctx := context.Background()

	result, err := o.MintOutgoingCredentials(ctx)
	if err != nil {
		t.Fatalf("MintOutgoingCredentials: %v", err)
	}
	if result.OutgoingToken == "" || result.Credentials.Username == "" {
		t.Errorf("result = %+v", result)
	}
	if len(st.created) != 1 || st.created[0].TemplateID != "tpl_client" {
		t.Errorf("created = %v", st.created)
	}

	if err := o.CleanupOutgoing(ctx, result.OutgoingToken); err != nil {
		t.Fatalf("CleanupOutgoing: %v", err)
	}
	if len(st.deleted) != 1 {
		t.Errorf("deleted = %v, want one entry", st.deleted)
	}

	if err := o.CleanupOutgoing(ctx, result.OutgoingToken); err == nil {
		t.Error("second CleanupOutgoing returned nil, want not-found")
	}
}
