package kv

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Fake is an in-memory Store used by orchestrator and janitor tests. TTLs
// are tracked but not actively swept; Get/Exists check expiry lazily so
// tests can assert on post-expiry behavior without a real clock source.
type Fake struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	now     func() time.Time
}

type fakeEntry struct {
	data    []byte
	expires time.Time
}

// NewFake creates an empty Fake store using time.Now for expiry checks.
func NewFake() *Fake {
	return &Fake{entries: make(map[string]fakeEntry), now: time.Now}
}

// SetClock overrides the clock used for expiry checks, for deterministic
// ring-timeout and TTL tests.
func (f *Fake) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *Fake) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = fakeEntry{data: b, expires: f.now().Add(ttl)}
	return nil
}

func (f *Fake) Get(_ context.Context, key string, dst any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || f.now().After(e.expires) {
		return ErrNotFound
	}
	return json.Unmarshal(e.data, dst)
}

func (f *Fake) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	var v json.RawMessage
	err := f.Get(ctx, key, &v)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns a snapshot of all non-expired keys, for tests that need to
// enumerate session records by prefix.
func (f *Fake) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.entries))
	for k, e := range f.entries {
		if !f.now().After(e.expires) {
			keys = append(keys, k)
		}
	}
	return keys
}
