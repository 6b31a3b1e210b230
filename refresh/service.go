package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmoon-dev/gatekit"
)

// Defaults for the refresh lifecycle: 14-day sliding inactivity window,
// 90-day absolute ceiling, 5 live sessions per user.
const (
	defaultInactivityExpiry = 14 * 24 * time.Hour
	defaultAbsoluteLifetime = 90 * 24 * time.Hour
	defaultMaxPerUser       = 5
)

// IdentityLookup resolves the full identity claims for a user id when a new
// access token is minted during rotation. The user service behind it is a
// downstream collaborator; a lookup failure fails the rotation closed.
type IdentityLookup func(ctx context.Context, userID string) (gatekit.Identity, error)

// Service owns the refresh-token lifecycle: issuance, validation, rotation
// with reuse detection, and revocation.
type Service struct {
	store            Store
	codec            *gatekit.Codec
	lookup           IdentityLookup
	inactivityExpiry time.Duration
	absoluteLifetime time.Duration
	maxPerUser       int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithInactivityExpiry sets the sliding inactivity window for issued records.
func WithInactivityExpiry(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.inactivityExpiry = d
	}
}

// WithAbsoluteLifetime sets the hard validity ceiling for issued records.
func WithAbsoluteLifetime(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.absoluteLifetime = d
	}
}

// WithMaxSessionsPerUser caps live refresh tokens per user. Issuing beyond
// the cap revokes the least recently used sessions first.
func WithMaxSessionsPerUser(n int) ServiceOption {
	return func(s *Service) {
		s.maxPerUser = n
	}
}

// NewService creates the refresh-token service. lookup may be nil, in which
// case rotated access tokens carry only the user id claim.
func NewService(store Store, codec *gatekit.Codec, lookup IdentityLookup, opts ...ServiceOption) *Service {
	s := &Service{
		store:            store,
		codec:            codec,
		lookup:           lookup,
		inactivityExpiry: defaultInactivityExpiry,
		absoluteLifetime: defaultAbsoluteLifetime,
		maxPerUser:       defaultMaxPerUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new refresh token for userID on login or signup.
// deviceInfo and ipAddress are audit-only and may be empty.
func (s *Service) Issue(ctx context.Context, userID, deviceInfo, ipAddress string) (*Record, error) {
	if err := s.enforceSessionCap(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		TokenID:          uuid.NewString(),
		UserID:           userID,
		CreatedAt:        now,
		LastUsedAt:       now,
		AbsoluteExpiryAt: now.Add(s.absoluteLifetime),
		InactivityExpiry: s.inactivityExpiry,
		DeviceInfo:       deviceInfo,
		IPAddress:        ipAddress,
	}

	if err := s.store.Save(ctx, rec, rec.TTL(now)); err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return rec, nil
}

// ValidateAndRotate exchanges tokenID for a new access token and a successor
// refresh record. The presented record is atomically revoked; the successor
// inherits the user and the absolute expiry unchanged (rotation never extends
// the ceiling) with a freshly started inactivity window.
//
// Presenting an already rotated token fails with ErrReused and, as a
// defensive response to possible token theft, revokes every session of the
// owning user.
func (s *Service) ValidateAndRotate(ctx context.Context, tokenID string) (string, *Record, error) {
	now := time.Now()
	successorID := uuid.NewString()

	old, err := s.store.Rotate(ctx, tokenID, successorID, now)
	if err != nil {
		rotations.WithLabelValues(statusFor(err)).Inc()
		if errors.Is(err, ErrReused) && old != nil {
			reuseRevocations.Inc()
			if revokeErr := s.store.RevokeAllForUser(ctx, old.UserID); revokeErr != nil {
				return "", nil, fmt.Errorf("revoke sessions after reuse: %w", revokeErr)
			}
		}
		return "", nil, err
	}

	successor := &Record{
		TokenID:          successorID,
		UserID:           old.UserID,
		CreatedAt:        now,
		LastUsedAt:       now,
		AbsoluteExpiryAt: old.AbsoluteExpiryAt,
		InactivityExpiry: s.inactivityExpiry,
		DeviceInfo:       old.DeviceInfo,
		IPAddress:        old.IPAddress,
	}
	if err := s.store.Save(ctx, successor, successor.TTL(now)); err != nil {
		return "", nil, fmt.Errorf("save rotated refresh token: %w", err)
	}

	identity := gatekit.Identity{UserID: old.UserID}
	if s.lookup != nil {
		identity, err = s.lookup(ctx, old.UserID)
		if err != nil {
			return "", nil, fmt.Errorf("resolve identity for rotation: %w", err)
		}
	}

	accessToken, err := s.codec.IssueAccessToken(identity)
	if err != nil {
		return "", nil, fmt.Errorf("issue access token: %w", err)
	}

	rotations.WithLabelValues("ok").Inc()
	return accessToken, successor, nil
}

// Validate checks tokenID without rotating it.
func (s *Service) Validate(ctx context.Context, tokenID string) (*Record, error) {
	rec, err := s.store.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		if rec.ReplacedByTokenID != "" {
			return nil, ErrReused
		}
		return nil, ErrRevoked
	}
	if !rec.Valid(time.Now()) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Revoke invalidates a single token, e.g. on logout. Idempotent.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	return s.store.Revoke(ctx, tokenID)
}

// RevokeAllForUser invalidates every session of a user. Idempotent.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.store.RevokeAllForUser(ctx, userID)
}

// DeleteAllForUser removes every record of a user, for account deletion.
func (s *Service) DeleteAllForUser(ctx context.Context, userID string) error {
	return s.store.DeleteAllForUser(ctx, userID)
}

// ActiveSessions returns the user's currently valid refresh records, e.g. for
// a "my devices" listing.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]*Record, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	active := records[:0]
	for _, rec := range records {
		if rec.Valid(now) {
			active = append(active, rec)
		}
	}
	return active, nil
}

// enforceSessionCap keeps at most maxPerUser live sessions, revoking the
// least recently used ones to make room for the next issue.
func (s *Service) enforceSessionCap(ctx context.Context, userID string) error {
	if s.maxPerUser <= 0 {
		return nil
	}

	active, err := s.ActiveSessions(ctx, userID)
	if err != nil {
		return err
	}
	if len(active) < s.maxPerUser {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastUsedAt.Before(active[j].LastUsedAt)
	})
	for _, rec := range active[:len(active)-s.maxPerUser+1] {
		if err := s.store.Revoke(ctx, rec.TokenID); err != nil {
			return err
		}
	}
	return nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrReused):
		return "reused"
	default:
		return "error"
	}
}
