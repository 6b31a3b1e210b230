package gatekit

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the gatekeeping pipeline.
//
// Fields:
//   - RateLimitEnabled: global admission-control switch.
//   - Policies: per-category request budgets.
//   - JWTSecret: HMAC secret for signing tokens (HS256, at least 32 bytes).
//     Do not use test defaults in production.
//   - AccessTokenValidity / RefreshTokenValidity: token lifetimes.
//   - RefreshInactivityExpiry: sliding expiry for refresh records.
//   - RefreshAbsoluteExpiry: hard ceiling for refresh records.
//   - MaxSessionsPerUser: live refresh tokens allowed per user.
type Config struct {
	RateLimitEnabled        bool
	Policies                Policies
	JWTSecret               string        `validate:"required,min=32"`
	AccessTokenValidity     time.Duration `validate:"required,gt=0"`
	RefreshTokenValidity    time.Duration `validate:"required,gt=0"`
	RefreshInactivityExpiry time.Duration `validate:"required,gt=0"`
	RefreshAbsoluteExpiry   time.Duration `validate:"required,gt=0"`
	MaxSessionsPerUser      int           `validate:"required,gt=0"`
}

// DefaultConfig populates a Config with the standard budgets and lifetimes.
// NOTE: JWTSecret has no default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		RateLimitEnabled:        true,
		Policies:                DefaultPolicies(),
		AccessTokenValidity:     30 * time.Minute,
		RefreshTokenValidity:    14 * 24 * time.Hour,
		RefreshInactivityExpiry: 14 * 24 * time.Hour,
		RefreshAbsoluteExpiry:   90 * 24 * time.Hour,
		MaxSessionsPerUser:      5,
	}
}

// LoadEnv overlays values from environment variables onto the config.
// Durations use Go duration syntax (e.g. "30m", "720h").
func (c *Config) LoadEnv() {
	if v := os.Getenv("GATEKIT_RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RateLimitEnabled = b
		}
	}
	if v := os.Getenv("GATEKIT_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	overlayDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	overlayDuration("GATEKIT_ACCESS_TOKEN_VALIDITY", &c.AccessTokenValidity)
	overlayDuration("GATEKIT_REFRESH_TOKEN_VALIDITY", &c.RefreshTokenValidity)
	overlayDuration("GATEKIT_REFRESH_INACTIVITY_EXPIRY", &c.RefreshInactivityExpiry)
	overlayDuration("GATEKIT_REFRESH_ABSOLUTE_EXPIRY", &c.RefreshAbsoluteExpiry)
	if v := os.Getenv("GATEKIT_MAX_SESSIONS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSessionsPerUser = n
		}
	}
}

// Validate checks the config at startup: struct constraints plus the
// exhaustive category-to-policy mapping.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Policies.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
