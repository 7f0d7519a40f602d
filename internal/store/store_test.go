package store

import (
	"context"
	"os"
	"testing"
)

// openTestStore connects to a live PostgreSQL instance named by
// DOORBRIDGE_TEST_DSN. These tests are skipped by default since the realtime
// store has no in-process fake — its correctness rests on real SQL
// semantics (upserts, transactional multi-table deletes).
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DOORBRIDGE_TEST_DSN")
	if dsn == "" {
		t.Skip("DOORBRIDGE_TEST_DSN not set, skipping realtime store integration test")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureTemplatesIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureTemplates(ctx); err != nil {
		t.Fatalf("EnsureTemplates (first): %v", err)
	}
	if err := s.EnsureTemplates(ctx); err != nil {
		t.Fatalf("EnsureTemplates (second): %v", err)
	}
}

func TestCreateAndDeleteEphemeralEndpoint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureTemplates(ctx); err != nil {
		t.Fatalf("EnsureTemplates: %v", err)
	}

	ep := EphemeralEndpoint{
		ID:         "tmp_test_1",
		Username:   "tmp_test_1",
		Password:   "s3cret",
		Context:    "from-domophone",
		TemplateID: TemplateDomophone,
	}
	if err := s.CreateEphemeralEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEphemeralEndpoint: %v", err)
	}

	// Re-creating with the same id must update, not duplicate.
	ep.Context = "from-domophone-retry"
	if err := s.CreateEphemeralEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEphemeralEndpoint (retry): %v", err)
	}

	ids, err := s.ListEphemeralEndpoints(ctx)
	if err != nil {
		t.Fatalf("ListEphemeralEndpoints: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == ep.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("ListEphemeralEndpoints = %v, want to contain %q", ids, ep.ID)
	}

	if err := s.DeleteEphemeralEndpoint(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEphemeralEndpoint: %v", err)
	}
	if err := s.DeleteEphemeralEndpoint(ctx, ep.ID); err != nil {
		t.Errorf("DeleteEphemeralEndpoint on already-deleted id returned error: %v", err)
	}
}

func TestCreateEphemeralEndpointUnknownTemplate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ep := EphemeralEndpoint{ID: "tmp_test_2", Username: "tmp_test_2", Password: "x", Context: "from-domophone", TemplateID: "tpl_does_not_exist"}
	if err := s.CreateEphemeralEndpoint(ctx, ep); err == nil {
		t.Error("CreateEphemeralEndpoint with unknown template returned nil error")
	}
}

func TestPushTokenRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, "user-1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	tok := PushToken{UserID: "user-1", Token: "abc123", Platform: "ios", DeviceID: "dev-1"}
	if err := s.SavePushToken(ctx, tok); err != nil {
		t.Fatalf("SavePushToken: %v", err)
	}
	// Upsert on same (userId, token) must not duplicate.
	tok.Platform = "ios-updated"
	if err := s.SavePushToken(ctx, tok); err != nil {
		t.Fatalf("SavePushToken (update): %v", err)
	}

	tokens, err := s.ListPushTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListPushTokens: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("ListPushTokens = %d tokens, want 1", len(tokens))
	}
	if tokens[0].Platform != "ios-updated" {
		t.Errorf("Platform = %q, want ios-updated", tokens[0].Platform)
	}
}
