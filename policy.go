package gatekit

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Policy defines the admission budget for one endpoint category:
// Requests per Period, enforced as a resetting fixed window.
type Policy struct {
	Requests int           `validate:"required,gt=0"`
	Period   time.Duration `validate:"required,gt=0"`
}

// Policies maps endpoint categories to their admission policies.
// The table replaces per-category switch dispatch; Validate makes an unmapped
// category a configuration error rather than a silent default.
type Policies map[Category]Policy

// DefaultPolicies returns the standard per-category budgets.
func DefaultPolicies() Policies {
	return Policies{
		CategoryAuth:     {Requests: 10, Period: time.Minute},
		CategoryAPI:      {Requests: 60, Period: time.Minute},
		CategorySearch:   {Requests: 30, Period: time.Minute},
		CategoryVoiceAI:  {Requests: 5, Period: time.Minute},
		CategoryVoice:    {Requests: 30, Period: time.Minute},
		CategoryErrorLog: {Requests: 10, Period: time.Minute},
	}
}

// Validate checks that every rate-limited category has a well-formed policy.
// Call it at startup; a missing or malformed entry is a configuration error.
func (p Policies) Validate() error {
	v := validator.New()
	for _, cat := range LimitedCategories() {
		pol, ok := p[cat]
		if !ok {
			return fmt.Errorf("policies: no policy configured for category %s", cat)
		}
		if err := v.Struct(pol); err != nil {
			return fmt.Errorf("policies: invalid policy for category %s: %w", cat, err)
		}
	}
	return nil
}

// For returns the policy for a category. An unmapped category falls back to
// the most conservative configured policy (smallest request budget), never to
// unlimited; Validate makes that fallback unreachable in a checked config.
func (p Policies) For(c Category) Policy {
	if pol, ok := p[c]; ok {
		return pol
	}

	strictest := Policy{}
	for _, pol := range p {
		if strictest.Requests == 0 || pol.Requests < strictest.Requests {
			strictest = pol
		}
	}
	if strictest.Requests == 0 {
		// Empty table; deny-leaning floor rather than unlimited.
		strictest = Policy{Requests: 1, Period: time.Minute}
	}
	return strictest
}
