// Admission control middleware.
//
// The admission filter is the first stage of the gatekeeping pipeline: it
// classifies the request, identifies the client, and consumes one slot from
// the category's rate-limit counter. Rejections carry HTTP 429 semantics with
// a Retry-After hint; accepted requests carry the standard X-RateLimit-*
// observability headers.
package gatekit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmoon-dev/gatekit/store"
)

// RateLimiter implements the admission filter.
type RateLimiter struct {
	store    store.Store
	policies Policies
	enabled  bool
	failOpen bool
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// RateLimitDisabled turns admission control off globally: every request passes
// without touching the counter store.
func RateLimitDisabled() RateLimitOption {
	return func(l *RateLimiter) {
		l.enabled = false
	}
}

// RateLimitFailOpen makes a counter-store failure admit the request instead of
// returning 500. Use when availability matters more than strict admission;
// authentication never fails open regardless of this setting.
func RateLimitFailOpen() RateLimitOption {
	return func(l *RateLimiter) {
		l.failOpen = true
	}
}

// NewRateLimiter creates the admission filter with the given counter store and
// per-category policies. Call policies.Validate() at startup first; an
// unmapped category at request time falls back to the strictest policy.
func NewRateLimiter(st store.Store, policies Policies, opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		store:    st,
		policies: policies,
		enabled:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handler returns the admission middleware. CORS pre-flight requests and
// EXCLUDED endpoints bypass unconditionally. On acceptance it sets:
//   - X-RateLimit-Limit: the request budget for the current window
//   - X-RateLimit-Remaining: requests left in the current window
//   - X-RateLimit-Reset: seconds until the window resets
//
// On rejection it responds 429 with Retry-After, X-RateLimit-Limit,
// X-RateLimit-Remaining: 0, and the TOO_MANY_REQUESTS JSON body.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		category := Classify(r.URL.Path, r.Method)
		if category == CategoryExcluded {
			next.ServeHTTP(w, r)
			return
		}

		policy := l.policies.For(category)
		key := ClientID(r) + ":" + string(category)

		res, err := l.store.TryConsume(r.Context(), key, policy.Requests, policy.Period)
		if err != nil {
			if l.failOpen {
				admissionDecisions.WithLabelValues(string(category), "error_allowed").Inc()
				next.ServeHTTP(w, r)
				return
			}
			admissionDecisions.WithLabelValues(string(category), "error").Inc()
			if HasState(r.Context()) {
				SetError(r, ErrInternal.With("Rate limit check failed"))
			} else {
				WriteError(w, ErrInternal.With("Rate limit check failed"))
			}
			return
		}

		resetSeconds := int64(res.Reset / time.Second)
		if resetSeconds < 1 {
			resetSeconds = 1
		}

		if !res.Allowed {
			admissionDecisions.WithLabelValues(string(category), "rejected").Inc()

			rejection := ErrTooManyRequests.
				With(fmt.Sprintf("Too many requests. Try again in %d seconds.", resetSeconds)).
				WithRetryAfter(resetSeconds)

			if HasState(r.Context()) {
				SetHeader(r, "Retry-After", strconv.FormatInt(resetSeconds, 10))
				SetHeader(r, "X-RateLimit-Remaining", "0")
				SetHeader(r, "X-RateLimit-Limit", strconv.Itoa(policy.Requests))
				SetError(r, rejection)
			} else {
				w.Header().Set("Retry-After", strconv.FormatInt(resetSeconds, 10))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Requests))
				WriteError(w, rejection)
			}
			return
		}

		admissionDecisions.WithLabelValues(string(category), "allowed").Inc()

		if HasState(r.Context()) {
			SetHeader(r, "X-RateLimit-Limit", strconv.Itoa(policy.Requests))
			SetHeader(r, "X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			SetHeader(r, "X-RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))
		} else {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))
		}

		next.ServeHTTP(w, r)
	})
}

// ClientID identifies the caller for counter keying. An authenticated identity
// in the request context takes precedence ("user:<id>"); otherwise the client
// address is derived from proxy headers ("ip:<addr>").
func ClientID(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok && id.UserID != "" {
		return "user:" + id.UserID
	}
	return "ip:" + clientAddr(r)
}

// clientAddr resolves the client address with the proxy precedence
// X-Forwarded-For, then X-Real-IP, then the socket address. The first entry of
// a comma-separated list wins; an "unknown" placeholder counts as absent.
//
// SECURITY: the forwarded headers are only trustworthy behind a reverse proxy
// that overwrites them.
func clientAddr(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" || strings.EqualFold(ip, "unknown") {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" || strings.EqualFold(ip, "unknown") {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
	if idx := strings.Index(ip, ","); idx != -1 {
		ip = ip[:idx]
	}
	return strings.TrimSpace(ip)
}
