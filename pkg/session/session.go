// Package session enforces one active login per subject.
//
// Each successful authentication that carries a session id and an
// auth_time is registered with a [Registry]. A login whose auth time is not older than the stored
// one replaces it; requests still presenting the replaced session are
// rejected with [sserr.CodeAuthenticationSession] until the user logs in
// again.
//
// Three registries are provided: [MemoryRegistry] for single-instance
// deployments, [RedisRegistry] and [PostgresRegistry] for replicas that
// must agree on the current session.
package session

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// Record is the current session of a subject.
type Record struct {
	Subject   string
	SessionID string
	AuthTime  time.Time
}

// supersedes reports whether r should replace existing.
func (r Record) supersedes(existing Record) bool {
	return r.SessionID == existing.SessionID || !r.AuthTime.Before(existing.AuthTime)
}

func (r Record) validate() error {
	if r.Subject == "" {
		return sserr.New(sserr.CodeValidationRequired, "session: record subject is required")
	}
	if r.SessionID == "" {
		return sserr.New(sserr.CodeValidationRequired, "session: record session id is required")
	}
	return nil
}

// Registry stores the current session per subject.
type Registry interface {
	// Register atomically stores rec unless a newer session for the
	// same subject exists, and returns whichever record is current
	// afterwards.
	Register(ctx context.Context, rec Record) (Record, error)

	// Current returns the stored record for subject.
	Current(ctx context.Context, subject string) (Record, bool, error)

	// Remove forgets subject's session.
	Remove(ctx context.Context, subject string) error
}

// HealthChecker is implemented by registries backed by a remote store.
type HealthChecker interface {
	Health(ctx context.Context) error
}
