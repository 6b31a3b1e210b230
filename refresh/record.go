// Package refresh implements the refresh-token lifecycle: issuance, rotation
// with reuse detection, sliding inactivity expiry, and an absolute expiry
// ceiling. The client holds an opaque token id; every authoritative bit of
// state lives in the store records here.
package refresh

import "time"

// minTTL is the floor applied when persisting a record so a storage TTL is
// never non-positive or already elapsed at write time.
const minTTL = time.Second

// Record is one refresh token's persisted state.
type Record struct {
	// TokenID is the opaque identifier handed to the client.
	TokenID string

	// UserID is the token owner.
	UserID string

	CreatedAt  time.Time
	LastUsedAt time.Time

	// AbsoluteExpiryAt is the hard validity ceiling. Rotation never extends it.
	AbsoluteExpiryAt time.Time

	// InactivityExpiry is the sliding window measured from LastUsedAt.
	InactivityExpiry time.Duration

	// Revoked marks the record permanently dead. Set on logout and on
	// rotation; rotation additionally sets ReplacedByTokenID.
	Revoked bool

	// ReplacedByTokenID is the successor's id, set at most once. A revoked
	// record with a successor is the signature of token reuse.
	ReplacedByTokenID string

	// DeviceInfo and IPAddress are audit-only.
	DeviceInfo string
	IPAddress  string
}

// Valid reports whether the record is usable at the given instant:
// not revoked, inside the absolute ceiling, and inside the inactivity window.
// Pure function of the record's fields.
func (r *Record) Valid(now time.Time) bool {
	if r.Revoked {
		return false
	}
	if !r.AbsoluteExpiryAt.IsZero() && now.After(r.AbsoluteExpiryAt) {
		return false
	}
	if !r.LastUsedAt.IsZero() && r.InactivityExpiry > 0 {
		if now.After(r.LastUsedAt.Add(r.InactivityExpiry)) {
			return false
		}
	}
	return true
}

// remainingAbsolute is the time left until the absolute ceiling, floored at 0.
func (r *Record) remainingAbsolute(now time.Time) time.Duration {
	if r.AbsoluteExpiryAt.IsZero() {
		return 1<<63 - 1
	}
	d := r.AbsoluteExpiryAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// remainingInactivity is the time left in the sliding window, floored at 0.
// An unused record has its full inactivity window remaining.
func (r *Record) remainingInactivity(now time.Time) time.Duration {
	if r.LastUsedAt.IsZero() || r.InactivityExpiry <= 0 {
		return r.InactivityExpiry
	}
	d := r.LastUsedAt.Add(r.InactivityExpiry).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TTL is the storage time-to-live for the record: the shorter of the remaining
// absolute and inactivity times, so the backing store reclaims the record
// exactly when it becomes unconditionally invalid. Floored at minTTL so a
// write never carries a non-positive TTL.
func (r *Record) TTL(now time.Time) time.Duration {
	ttl := r.remainingAbsolute(now)
	if in := r.remainingInactivity(now); in < ttl {
		ttl = in
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}
