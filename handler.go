package gatekit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
)

// HandlerOption configures the Handler middleware.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
}

// WithCanonlog enables canonical logging for requests.
// Creates a logger at request start and flushes it after response.
// Logs method, path, route, status, and duration_ms for each request.
// Errors set via SetError are automatically logged, so rejection detail
// (expired signature, reuse detection) stays server-side.
func WithCanonlog() HandlerOption {
	return func(c *handlerConfig) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds custom fields to each log entry.
// The function receives the request and returns fields to add.
// Called at request start, before the filters execute.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(c *handlerConfig) {
		c.canonlogFields = fn
	}
}

// Handler returns middleware that manages response state and writes responses.
// Mount it outermost, before the admission and authentication filters, so the
// filters can record rejections and rate-limit headers in request state.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &State{}
			ctx := context.WithValue(r.Context(), stateKey, state)

			var start time.Time
			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				start = time.Now()

				canonlog.InfoAddMany(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})

				if cfg.canonlogFields != nil {
					canonlog.InfoAddMany(ctx, cfg.canonlogFields(r))
				}
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.mu.Unlock()

					if cfg.canonlog {
						canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					}
				}

				if cfg.canonlog {
					state.mu.Lock()
					status := state.status
					if state.err != nil {
						status = state.err.Status
						canonlog.ErrorAdd(ctx, state.err)
					}
					state.mu.Unlock()

					route := r.URL.Path
					if rctx := chi.RouteContext(ctx); rctx != nil {
						if pattern := rctx.RoutePattern(); pattern != "" {
							route = pattern
						}
					}

					if id, ok := IdentityFromContext(ctx); ok {
						canonlog.InfoAdd(ctx, "user_id", id.UserID)
					}

					canonlog.InfoAddMany(ctx, map[string]any{
						"route":       route,
						"status":      status,
						"duration_ms": time.Since(start).Milliseconds(),
					})

					canonlog.Flush(ctx)
				}

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// writeResponse writes the buffered state to the underlying ResponseWriter.
// A handler that wrote directly leaves the state empty, in which case nothing
// is written here.
func writeResponse(w http.ResponseWriter, state *State) {
	if !state.markWritten() {
		return
	}

	state.mu.Lock()
	err := state.err
	status := state.status
	body := state.body
	headers := state.headers
	state.mu.Unlock()

	for key, values := range headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if err != nil {
		WriteError(w, err)
		return
	}

	if status == 0 && body == nil {
		return
	}
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
