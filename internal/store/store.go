// Package store implements the realtime config store (§4.3): the
// PostgreSQL tables the telephony engine polls directly to resolve SIP
// endpoint/AOR/auth rows, plus the push-token registry.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/doorbridge/doorbridge/internal/errs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// disposablePrefixes are the two endpoint-id prefixes the orchestrator
// mints: "tmp_" for inbound (doorphone-facing) endpoints, "out_" for
// client-initiated outbound endpoints.
var disposablePrefixes = []string{"tmp_", "out_"}

// Template names the orchestrator's two endpoint templates.
const (
	TemplateDomophone = "tpl_domophone"
	TemplateClient    = "tpl_client"
)

// EphemeralEndpoint is the shared-primary-key triple written across
// ps_aors/ps_auths/ps_endpoints for exactly one Call.
type EphemeralEndpoint struct {
	ID         string
	Username   string
	Password   string
	Context    string
	TemplateID string
}

// PushToken is a durable row binding a user to a device push token.
type PushToken struct {
	UserID    string
	Token     string
	Platform  string
	DeviceID  string
	UpdatedAt time.Time
}

// Store implements the realtime config store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open opens a PostgreSQL connection and runs pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &errs.StoreError{Op: "store.Open", Err: fmt.Errorf("opening postgresql: %w", err)}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errs.StoreError{Op: "store.Open", Err: fmt.Errorf("pinging postgresql: %w", err)}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("realtime config store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order, tracked by a
// schema_migrations table.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("creating schema_migrations table: %w", err)}
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("reading migrations directory: %w", err)}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("checking migration %s: %w", version, err)}
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("reading migration %s: %w", version, err)}
		}

		tx, err := s.db.Begin()
		if err != nil {
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("beginning transaction for migration %s: %w", version, err)}
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("executing migration %s: %w", version, err)}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("recording migration %s: %w", version, err)}
		}
		if err := tx.Commit(); err != nil {
			return &errs.StoreError{Op: "store.migrate", Err: fmt.Errorf("committing migration %s: %w", version, err)}
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

// EnsureTemplates upserts the two endpoint templates referenced by
// CreateEphemeralEndpoint: tpl_domophone (narrow codec set for the street
// unit) and tpl_client (wider set for mobile clients).
func (s *Store) EnsureTemplates(ctx context.Context) error {
	templates := []struct {
		id, allow string
	}{
		{TemplateDomophone, "ulaw,alaw"},
		{TemplateClient, "opus,ulaw,alaw"},
	}
	for _, t := range templates {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO endpoint_templates (id, allow, disallow)
			 VALUES ($1, $2, 'all')
			 ON CONFLICT (id) DO UPDATE SET allow = excluded.allow`,
			t.id, t.allow,
		)
		if err != nil {
			return &errs.StoreError{Op: "store.EnsureTemplates", Err: err}
		}
	}
	return nil
}

// CreateEphemeralEndpoint inserts the AOR/auth/endpoint row triple for a
// single-use SIP account. All three rows share p.ID as primary key.
// Idempotent: a retry with the same parameters updates non-key columns
// rather than creating a duplicate.
func (s *Store) CreateEphemeralEndpoint(ctx context.Context, p EphemeralEndpoint) error {
	var allow string
	if err := s.db.QueryRowContext(ctx, `SELECT allow FROM endpoint_templates WHERE id = $1`, p.TemplateID).Scan(&allow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: fmt.Errorf("unknown template %q", p.TemplateID)}
		}
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ps_aors (id, max_contacts) VALUES ($1, 1)
		 ON CONFLICT (id) DO UPDATE SET max_contacts = 1`,
		p.ID,
	); err != nil {
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: fmt.Errorf("aor: %w", err)}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ps_auths (id, auth_type, username, password) VALUES ($1, 'userpass', $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username, password = excluded.password`,
		p.ID, p.Username, p.Password,
	); err != nil {
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: fmt.Errorf("auth: %w", err)}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ps_endpoints (id, transport, aors, auth, context, disallow, allow, templates)
		 VALUES ($1, 'transport-udp', $1, $1, $2, 'all', $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   context = excluded.context, allow = excluded.allow, templates = excluded.templates`,
		p.ID, p.Context, allow, p.TemplateID,
	); err != nil {
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: fmt.Errorf("endpoint: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &errs.StoreError{Op: "store.CreateEphemeralEndpoint", Err: err}
	}
	return nil
}

// DeleteEphemeralEndpoint removes the endpoint, auth, and AOR rows for id,
// in that order. Safe to call on a missing id.
func (s *Store) DeleteEphemeralEndpoint(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StoreError{Op: "store.DeleteEphemeralEndpoint", Err: err}
	}
	defer tx.Rollback()

	for _, table := range []string{"ps_endpoints", "ps_auths", "ps_aors"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
			return &errs.StoreError{Op: "store.DeleteEphemeralEndpoint", Err: fmt.Errorf("%s: %w", table, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &errs.StoreError{Op: "store.DeleteEphemeralEndpoint", Err: err}
	}
	return nil
}

// ListEphemeralEndpoints returns all endpoint ids whose identifier matches
// a disposable prefix, for Janitor reconciliation.
func (s *Store) ListEphemeralEndpoints(ctx context.Context) ([]string, error) {
	conds := make([]string, 0, len(disposablePrefixes))
	args := make([]any, 0, len(disposablePrefixes))
	for i, prefix := range disposablePrefixes {
		conds = append(conds, fmt.Sprintf("id LIKE $%d", i+1))
		args = append(args, prefix+"%")
	}
	query := `SELECT id FROM ps_endpoints WHERE ` + strings.Join(conds, " OR ")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StoreError{Op: "store.ListEphemeralEndpoints", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errs.StoreError{Op: "store.ListEphemeralEndpoints", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnsureUser upserts a user row. The push registry foreign-keys to this
// table is intentionally avoided (no FK), since crash-recovery must never
// fail a push lookup on a missing user row the orchestrator never wrote.
func (s *Store) EnsureUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return &errs.StoreError{Op: "store.EnsureUser", Err: err}
	}
	return nil
}

// SavePushToken upserts a push-target row, unique on (userId, token).
func (s *Store) SavePushToken(ctx context.Context, t PushToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens (user_id, token, platform, device_id, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, token) DO UPDATE SET
		   platform = excluded.platform, device_id = excluded.device_id, updated_at = NOW()`,
		strings.ToLower(t.UserID), t.Token, t.Platform, t.DeviceID,
	)
	if err != nil {
		return &errs.StoreError{Op: "store.SavePushToken", Err: err}
	}
	return nil
}

// ListPushTokens returns all push targets registered for userId.
func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]PushToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, token, platform, device_id, updated_at
		 FROM push_tokens WHERE user_id = $1`, strings.ToLower(userID))
	if err != nil {
		return nil, &errs.StoreError{Op: "store.ListPushTokens", Err: err}
	}
	defer rows.Close()

	var tokens []PushToken
	for rows.Next() {
		var t PushToken
		if err := rows.Scan(&t.UserID, &t.Token, &t.Platform, &t.DeviceID, &t.UpdatedAt); err != nil {
			return nil, &errs.StoreError{Op: "store.ListPushTokens", Err: err}
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RecordCallCreated writes a best-effort audit row for a new Call. This
// table is never on the critical path; nothing in the orchestrator calls
// this method or RecordCallEnded, so the calls table stays empty unless
// another caller writes it.
func (s *Store) RecordCallCreated(ctx context.Context, callID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, channel_id, state) VALUES ($1, $2, 'PENDING')`,
		callID, channelID,
	)
	if err != nil {
		return &errs.StoreError{Op: "store.RecordCallCreated", Err: err}
	}
	return nil
}

// RecordCallEnded marks the most recent audit row for callID with its
// terminal state and end time. Best-effort; see RecordCallCreated.
func (s *Store) RecordCallEnded(ctx context.Context, callID, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET state = $2, ended_at = NOW()
		 WHERE id = (SELECT id FROM calls WHERE call_id = $1 ORDER BY id DESC LIMIT 1)`,
		callID, state,
	)
	if err != nil {
		return &errs.StoreError{Op: "store.RecordCallEnded", Err: err}
	}
	return nil
}
