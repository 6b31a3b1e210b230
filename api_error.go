// Package gatekit provides the edge gatekeeping middleware for a multi-tenant
// HTTP service: admission control (per-category rate limiting) and bearer-token
// authentication with a rotating refresh-token lifecycle.
//
// This file contains the structured API error type used by the filters for
// boundary rejections. The JSON shape is stable and consumed by clients:
//
//	{"error": "TOO_MANY_REQUESTS", "message": "...", "status": 429, "retryAfterSeconds": 42}
package gatekit

import (
	"encoding/json"
	"net/http"
)

// APIError represents a structured rejection produced at the gatekeeping
// boundary. Code is a machine-readable identifier; Message is safe to show to
// clients and never carries verification internals.
type APIError struct {
	Code              string `json:"error"`
	Message           string `json:"message"`
	Status            int    `json:"status"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error codes.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Status == t.Status
}

// With returns a copy of the error with a custom message.
func (e *APIError) With(message string) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithRetryAfter returns a copy of the error carrying a retry hint in seconds.
func (e *APIError) WithRetryAfter(seconds int64) *APIError {
	if e == nil {
		return nil
	}
	dup := *e
	dup.RetryAfterSeconds = seconds
	return &dup
}

// Predefined sentinel errors
var (
	ErrBadRequest      = &APIError{Code: "BAD_REQUEST", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized    = &APIError{Code: "UNAUTHORIZED", Message: "Authentication required", Status: http.StatusUnauthorized}
	ErrForbidden       = &APIError{Code: "FORBIDDEN", Message: "Access denied", Status: http.StatusForbidden}
	ErrTooManyRequests = &APIError{Code: "TOO_MANY_REQUESTS", Message: "Too many requests", Status: http.StatusTooManyRequests}
	ErrInternal        = &APIError{Code: "INTERNAL_ERROR", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// WriteError writes the error as a JSON response with its status code.
// Used by the filters when no wrapper state is present in the request context.
func WriteError(w http.ResponseWriter, e *APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}
