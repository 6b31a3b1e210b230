package refresh

import (
	"context"
	"errors"
	"time"
)

// Failure kinds for refresh-token operations. ErrReused is security-relevant:
// it means a token that was already rotated was presented again, the signature
// of a possibly stolen token.
var (
	ErrNotFound = errors.New("refresh token not found")
	ErrRevoked  = errors.New("refresh token revoked")
	ErrExpired  = errors.New("refresh token expired")
	ErrReused   = errors.New("refresh token reuse detected")
)

// tombstoneTTL is how long a revoked record is kept around so a reuse attempt
// is still detectable after rotation.
const tombstoneTTL = time.Hour

// Store defines the persistence contract for refresh token records.
// Implementations must be safe for concurrent use, and Rotate must be atomic
// per token id: of any number of concurrent callers presenting the same token,
// exactly one claims it.
type Store interface {
	// Save persists the record with the given storage TTL.
	Save(ctx context.Context, rec *Record, ttl time.Duration) error

	// Get returns the record for tokenID, or ErrNotFound.
	Get(ctx context.Context, tokenID string) (*Record, error)

	// Rotate atomically claims tokenID for rotation: it validates the record,
	// marks it revoked with ReplacedByTokenID set to successorID, and shortens
	// its TTL to the tombstone window. It returns the record as it was before
	// the claim. Failure kinds: ErrNotFound; ErrExpired (record deleted);
	// ErrRevoked for a plainly revoked record; ErrReused for a record revoked
	// by a previous rotation (the record is returned alongside ErrRevoked and
	// ErrReused so callers can react to its owner).
	Rotate(ctx context.Context, tokenID, successorID string, now time.Time) (*Record, error)

	// Revoke marks tokenID revoked and shortens its TTL to the tombstone
	// window. Revoking an absent or already revoked token is not an error.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeAllForUser revokes every live record owned by userID.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteAllForUser removes every record owned by userID, tombstones
	// included. Used for account deletion.
	DeleteAllForUser(ctx context.Context, userID string) error

	// ListByUser returns all stored records owned by userID, revoked
	// tombstones included. Callers filter with Record.Valid as needed.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)

	// Close releases any resources held by the store.
	Close() error
}
