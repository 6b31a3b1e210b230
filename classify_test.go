package gatekit

import (
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		method string
		want   Category
	}{
		{"login", "/api/auth/login", http.MethodPost, CategoryAuth},
		{"signup", "/api/auth/signup", http.MethodPost, CategoryAuth},
		{"refresh", "/api/auth/refresh", http.MethodPost, CategoryAuth},
		{"error log ingestion", "/api/error-logs", http.MethodPost, CategoryErrorLog},
		{"error log subresource", "/api/error-logs/123", http.MethodGet, CategoryErrorLog},
		{"member search", "/api/members/search", http.MethodGet, CategorySearch},
		{"find endpoint", "/api/students/find-by-phone", http.MethodGet, CategorySearch},
		{"voice command is AI", "/api/voice/command", http.MethodPost, CategoryVoiceAI},
		{"other voice endpoint", "/api/voice/continue", http.MethodPost, CategoryVoice},
		{"voice prefix without slash", "/api/voice", http.MethodGet, CategoryVoice},
		{"plain api", "/api/members", http.MethodGet, CategoryAPI},
		{"plain api write", "/api/members/42", http.MethodPut, CategoryAPI},
		{"root path", "/", http.MethodGet, CategoryAPI},
		{"health check excluded", "/actuator/health", http.MethodGet, CategoryExcluded},
		{"swagger excluded", "/swagger-ui/index.html", http.MethodGet, CategoryExcluded},
		{"openapi excluded", "/v3/api-docs", http.MethodGet, CategoryExcluded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.path, tt.method); got != tt.want {
				t.Errorf("Classify(%q, %q) = %s, want %s", tt.path, tt.method, got, tt.want)
			}
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// A search path under the auth prefix classifies as AUTH because the auth
	// rule is evaluated first.
	if got := Classify("/api/auth/search", http.MethodGet); got != CategoryAuth {
		t.Errorf("expected AUTH, got %s", got)
	}

	// An excluded prefix beats everything, including the search rule.
	if got := Classify("/swagger/search", http.MethodGet); got != CategoryExcluded {
		t.Errorf("expected EXCLUDED, got %s", got)
	}
}

func TestLimitedCategories_ExcludesExcluded(t *testing.T) {
	for _, cat := range LimitedCategories() {
		if cat == CategoryExcluded {
			t.Fatal("LimitedCategories must not contain EXCLUDED")
		}
	}

	if got := len(LimitedCategories()); got != 6 {
		t.Errorf("expected 6 limited categories, got %d", got)
	}
}
