package gatekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minSigningKeyBytes is the minimum HMAC-SHA256 key length (256 bits).
const minSigningKeyBytes = 32

// Verification failure kinds returned by VerifyAccessToken. The boundary
// collapses all of them to 401; callers use them for messaging and logs only.
var (
	// ErrTokenExpired means the token verified but its expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed means the signature or structure did not verify.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenUnparseable means the token could not be decoded at all.
	ErrTokenUnparseable = errors.New("token unparseable")
)

// AccessTokenClaims is the self-contained claim set embedded in every access
// token. It is reconstructed from the token on each request and never stored.
type AccessTokenClaims struct {
	Username               string `json:"username,omitempty"`
	Email                  string `json:"email,omitempty"`
	Phone                  string `json:"phone,omitempty"`
	DefaultBusinessPlaceID string `json:"defaultBusinessPlaceId,omitempty"`
	IsSystemAdmin          bool   `json:"isSystemAdmin"`
	jwt.RegisteredClaims
}

// Identity converts the claim set to the resolved identity handed to
// downstream handlers. A missing isSystemAdmin claim decodes to false.
func (c *AccessTokenClaims) Identity() Identity {
	return Identity{
		UserID:                 c.Subject,
		Username:               c.Username,
		Email:                  c.Email,
		Phone:                  c.Phone,
		DefaultBusinessPlaceID: c.DefaultBusinessPlaceID,
		IsSystemAdmin:          c.IsSystemAdmin,
	}
}

// Codec creates and verifies signed, self-contained tokens. Verification is a
// pure function of the token bytes and the signing key; it never consults
// storage, keeping the authentication hot path allocation-light.
type Codec struct {
	key             []byte
	accessValidity  time.Duration
	refreshValidity time.Duration
}

// NewCodec builds a token codec from the signing secret and token lifetimes.
// HMAC-SHA256 requires a key of at least 32 bytes; shorter secrets are a
// startup error, not a runtime surprise.
func NewCodec(secret string, accessValidity, refreshValidity time.Duration) (*Codec, error) {
	if len(secret) < minSigningKeyBytes {
		return nil, fmt.Errorf("signing secret too short: %d bytes, need at least %d", len(secret), minSigningKeyBytes)
	}
	if accessValidity <= 0 {
		return nil, errors.New("access token validity must be positive")
	}
	if refreshValidity <= 0 {
		return nil, errors.New("refresh token validity must be positive")
	}
	return &Codec{
		key:             []byte(secret),
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
	}, nil
}

// IssueAccessToken produces a signed access token embedding the full identity
// claim set with issued-at and expiry timestamps.
func (c *Codec) IssueAccessToken(id Identity) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		Username:               id.Username,
		Email:                  id.Email,
		Phone:                  id.Phone,
		DefaultBusinessPlaceID: id.DefaultBusinessPlaceID,
		IsSystemAdmin:          id.IsSystemAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessValidity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// IssueRefreshToken produces the minimal signed handle (subject and lifetime
// only) that travels to the client. The authoritative refresh state lives in
// the refresh token store, not in this payload.
func (c *Codec) IssueRefreshToken(userID, username string) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshValidity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// VerifyAccessToken checks the signature and expiry of a token and returns its
// claims. Failures map to ErrTokenExpired, ErrTokenMalformed, or
// ErrTokenUnparseable; the underlying library detail never escapes.
func (c *Codec) VerifyAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenMalformed
	default:
		return nil, ErrTokenUnparseable
	}

	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
