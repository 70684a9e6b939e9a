package session

import (
	"context"
	"errors"

	"github.com/StricklySoft/messaged/pkg/clients/postgres"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS messaged_sessions (
	subject    TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	auth_time  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// registerSQL updates the row only when the stored session is the same
// or not newer; otherwise no row is returned.
const registerSQL = `INSERT INTO messaged_sessions (subject, session_id, auth_time, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (subject) DO UPDATE
SET session_id = EXCLUDED.session_id, auth_time = EXCLUDED.auth_time, updated_at = now()
WHERE messaged_sessions.session_id = EXCLUDED.session_id
   OR messaged_sessions.auth_time <= EXCLUDED.auth_time
RETURNING session_id, auth_time`

const selectSQL = `SELECT session_id, auth_time FROM messaged_sessions WHERE subject = $1`

const deleteSQL = `DELETE FROM messaged_sessions WHERE subject = $1`

// registerAttempts bounds the upsert/select loop when a row is deleted
// between the two statements.
const registerAttempts = 3

// PostgresRegistry keeps one row per subject in messaged_sessions.
type PostgresRegistry struct {
	client *postgres.Client
}

var (
	_ Registry      = (*PostgresRegistry)(nil)
	_ HealthChecker = (*PostgresRegistry)(nil)
)

// NewPostgresRegistry returns a registry on client. Call EnsureSchema
// once before use.
func NewPostgresRegistry(client *postgres.Client) *PostgresRegistry {
	return &PostgresRegistry{client: client}
}

// EnsureSchema creates the sessions table if it does not exist.
func (p *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := p.client.Exec(ctx, createTableSQL)
	return err
}

func (p *PostgresRegistry) Register(ctx context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}

	for range registerAttempts {
		current := Record{Subject: rec.Subject}
		err := p.client.QueryRow(ctx, registerSQL, rec.Subject, rec.SessionID, rec.AuthTime).
			Scan(&current.SessionID, &current.AuthTime)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, postgres.ErrNoRows) {
			return Record{}, postgres.ScanError(err, "session: register failed")
		}

		// A newer session holds the row.
		existing, ok, err := p.Current(ctx, rec.Subject)
		if err != nil {
			return Record{}, err
		}
		if ok {
			return existing, nil
		}
	}
	return Record{}, sserr.New(sserr.CodeInternalDatabase, "session: register did not converge")
}

func (p *PostgresRegistry) Current(ctx context.Context, subject string) (Record, bool, error) {
	rec := Record{Subject: subject}
	err := p.client.QueryRow(ctx, selectSQL, subject).Scan(&rec.SessionID, &rec.AuthTime)
	if errors.Is(err, postgres.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, postgres.ScanError(err, "session: lookup failed")
	}
	return rec, true, nil
}

func (p *PostgresRegistry) Remove(ctx context.Context, subject string) error {
	_, err := p.client.Exec(ctx, deleteSQL, subject)
	return err
}

func (p *PostgresRegistry) Health(ctx context.Context) error {
	return p.client.Health(ctx)
}
