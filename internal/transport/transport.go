// Package transport speaks to the remote store of record. The remote API
// is opaque: request/response calls keyed by operation plus a user
// credential. Errors are typed so the sync driver can tell retryable
// transport failures from terminal remote rejections.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ilyakasyanov/walletsync/internal/models"
)

// ErrorKind classifies a remote call failure.
type ErrorKind int

const (
	// KindNetwork covers unreachable hosts, resets and timeouts. Retryable.
	KindNetwork ErrorKind = iota
	// KindServer covers remote 5xx-style faults. Retryable.
	KindServer
	// KindAuth covers authentication/authorization rejections. Terminal.
	KindAuth
	// KindValidation covers payload/schema rejections. Terminal.
	KindValidation
	// KindConflict means the remote holds a different version of the
	// entity; the conflict layer takes over. Terminal for the operation.
	KindConflict
)

// Error is a typed transport failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure may heal with backoff.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// IsRetryable classifies an arbitrary error from a transport call.
// Untyped errors are treated as network-level and retried.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

// IsConflict reports whether the remote rejected an operation because it
// holds a different version.
func IsConflict(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindConflict
}

// IsAuth reports whether the failure is an authentication rejection.
func IsAuth(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindAuth
}

// Credentials identify the user against the remote store.
type Credentials struct {
	UserID string
	Token  string
}

// TokenExpired inspects a JWT credential locally and reports whether it
// is already past its expiry. Opaque (non-JWT) tokens never report
// expired; the remote is the authority for those.
func (c Credentials) TokenExpired(now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

// PushResult is the remote's acknowledgment of one operation.
type PushResult struct {
	CloudID string `json:"cloudId"`
}

// Transport is the single seam to the remote store.
type Transport interface {
	// Ping probes remote reachability.
	Ping(ctx context.Context) error

	// Push replays one queued mutation remotely.
	Push(ctx context.Context, creds Credentials, op models.PendingOperation) (*PushResult, error)

	// Pull fetches the full remote dataset.
	Pull(ctx context.Context, creds Credentials) (*models.Snapshot, error)

	// PullSince fetches only records modified after since (epoch ms).
	PullSince(ctx context.Context, creds Credentials, since int64) (*models.Snapshot, error)

	// PushSnapshot replaces the remote dataset with the bundle's data.
	// Used by the upload_local resolution action.
	PushSnapshot(ctx context.Context, creds Credentials, bundle *models.ExportBundle) error
}
