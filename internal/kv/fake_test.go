package kv

import (
	"context"
	"testing"
	"time"
)

type record struct {
	CallToken string `json:"callToken"`
}

func TestFakeSetGet(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	if err := f.Set(ctx, "call:abc", record{CallToken: "abc"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got record
	if err := f.Get(ctx, "call:abc", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CallToken != "abc" {
		t.Errorf("CallToken = %q, want abc", got.CallToken)
	}
}

func TestFakeGetMissing(t *testing.T) {
	f := NewFake()
	var got record
	if err := f.Get(context.Background(), "call:nope", &got); err != ErrNotFound {
		t.Errorf("Get on missing key = %v, want ErrNotFound", err)
	}
}

func TestFakeDel(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	f.Set(ctx, "k", record{CallToken: "x"}, time.Minute)

	if err := f.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}

	var got record
	if err := f.Get(ctx, "k", &got); err != ErrNotFound {
		t.Errorf("Get after Del = %v, want ErrNotFound", err)
	}
}

func TestFakeDelMissingIsSafe(t *testing.T) {
	f := NewFake()
	if err := f.Del(context.Background(), "never-existed"); err != nil {
		t.Errorf("Del on missing key returned error: %v", err)
	}
}

func TestFakeExpiry(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	clock := time.Now()
	f.SetClock(func() time.Time { return clock })

	if err := f.Set(ctx, "originate:tmp_1", record{CallToken: "t"}, 30*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock = clock.Add(31 * time.Second)

	var got record
	if err := f.Get(ctx, "originate:tmp_1", &got); err != ErrNotFound {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestFakeExists(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	f.Set(ctx, "endpoint:tmp_1", record{CallToken: "t"}, time.Minute)

	ok, err := f.Exists(ctx, "endpoint:tmp_1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists = false, want true")
	}

	ok, err = f.Exists(ctx, "endpoint:missing")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists = true, want false")
	}
}
