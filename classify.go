package gatekit

import "strings"

// Category is an endpoint class used to select the admission policy and to
// decide bypasses. Categories are mutually exclusive; Classify assigns exactly
// one per request.
type Category string

const (
	// CategoryAuth covers login, signup, and token refresh endpoints.
	CategoryAuth Category = "AUTH"
	// CategorySearch covers search and lookup endpoints.
	CategorySearch Category = "SEARCH"
	// CategoryVoiceAI covers the single AI-backed voice command endpoint,
	// which is limited conservatively.
	CategoryVoiceAI Category = "VOICE_AI"
	// CategoryVoice covers the remaining voice endpoints.
	CategoryVoice Category = "VOICE"
	// CategoryErrorLog covers client error-log ingestion, which is callable
	// without authentication and limited conservatively.
	CategoryErrorLog Category = "ERROR_LOG"
	// CategoryAPI covers everything else.
	CategoryAPI Category = "API"
	// CategoryExcluded marks infrastructure endpoints (health checks, docs)
	// that bypass admission control entirely.
	CategoryExcluded Category = "EXCLUDED"
)

// excludedPrefixes are infrastructure paths outside admission control.
var excludedPrefixes = []string{"/actuator", "/swagger", "/v3/api-docs"}

// LimitedCategories lists every category that participates in admission
// control, i.e. all categories except EXCLUDED. Policy tables must cover them
// exhaustively.
func LimitedCategories() []Category {
	return []Category{
		CategoryAuth,
		CategorySearch,
		CategoryVoiceAI,
		CategoryVoice,
		CategoryErrorLog,
		CategoryAPI,
	}
}

// Classify maps a request path and method to its endpoint category.
// Rules are evaluated in order and the first match wins. The function is pure:
// no request object, no I/O.
//
// The method parameter is part of the classification contract; the current
// rule set is path-driven and treats all methods alike.
func Classify(path, method string) Category {
	_ = method

	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return CategoryExcluded
		}
	}

	if strings.HasPrefix(path, "/api/auth/") {
		return CategoryAuth
	}

	if path == "/api/error-logs" || strings.HasPrefix(path, "/api/error-logs/") {
		return CategoryErrorLog
	}

	if strings.Contains(path, "/search") || strings.Contains(path, "/find") {
		return CategorySearch
	}

	if path == "/api/voice/command" {
		return CategoryVoiceAI
	}

	if strings.HasPrefix(path, "/api/voice") {
		return CategoryVoice
	}

	return CategoryAPI
}
