package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/doorbridge/doorbridge/internal/engine"
	"github.com/doorbridge/doorbridge/internal/push"
	"github.com/doorbridge/doorbridge/internal/store"
)

type fakeEngine struct {
	mu sync.Mutex

	nextBridgeID int
	bridges      map[string][]string // bridgeID -> channel ids
	hungUp       []string
	answered     []string
	originated   []string // "endpoint|appArgs"

	createBridgeErr error
	addChannelErr   error
	originateErr    error
	hangupErr       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{bridges: make(map[string][]string)}
}

func (f *fakeEngine) CreateMixingBridge(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createBridgeErr != nil {
		return "", f.createBridgeErr
	}
	f.nextBridgeID++
	id := "B" + string(rune('0'+f.nextBridgeID))
	f.bridges[id] = nil
	return id, nil
}

func (f *fakeEngine) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addChannelErr != nil {
		return f.addChannelErr
	}
	f.bridges[bridgeID] = append(f.bridges[bridgeID], channelID)
	return nil
}

func (f *fakeEngine) GetBridge(ctx context.Context, bridgeID string) (*engine.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &engine.Bridge{ID: bridgeID, Channels: append([]string{}, f.bridges[bridgeID]...)}, nil
}

func (f *fakeEngine) DeleteBridge(ctx context.Context, bridgeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bridges, bridgeID)
	return nil
}

func (f *fakeEngine) Originate(ctx context.Context, endpoint string, appArgs string) (*engine.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.originateErr != nil {
		return nil, f.originateErr
	}
	f.originated = append(f.originated, endpoint+"|"+appArgs)
	return &engine.Channel{ID: "CH-out"}, nil
}

func (f *fakeEngine) Answer(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, channelID)
	return nil
}

func (f *fakeEngine) Hold(ctx context.Context, channelID string) error { return nil }

func (f *fakeEngine) Hangup(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangupErr != nil {
		return f.hangupErr
	}
	f.hungUp = append(f.hungUp, channelID)
	return nil
}

func (f *fakeEngine) originateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.originated)
}

type fakeRealtimeStore struct {
	mu      sync.Mutex
	created []store.EphemeralEndpoint
	deleted []string
}

func (f *fakeRealtimeStore) CreateEphemeralEndpoint(ctx context.Context, p store.EphemeralEndpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	return nil
}

func (f *fakeRealtimeStore) DeleteEphemeralEndpoint(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []push.Payload
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, userID string, payload push.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, payload)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

func testConfig() Config {
	return Config{
		ServerDomain:    "doorbridge.example.com",
		AppName:         "doorbridge",
		CallTokenTTL:    60 * time.Second,
		RingTimeout:     20 * time.Second,
		PushRecipient:   "owner-1",
		InboundContext:  "from-domophone",
		OutboundContext: "from-client",
	}
}
