package ratelimit_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   string
		cfg      ratelimit.EndpointConfig
		expected []ratelimit.Scope
	}{
		{
			name:     "GET is a read",
			method:   http.MethodGet,
			expected: []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeRead},
		},
		{
			name:     "HEAD is a read",
			method:   http.MethodHead,
			expected: []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeRead},
		},
		{
			name:     "POST is a write",
			method:   http.MethodPost,
			expected: []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeWrite},
		},
		{
			name:     "DELETE is a write",
			method:   http.MethodDelete,
			expected: []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeWrite},
		},
		{
			name:     "configured scope overrides the method",
			method:   http.MethodGet,
			cfg:      ratelimit.EndpointConfig{Scope: ratelimit.ScopeWrite},
			expected: []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeWrite},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, ratelimit.Scopes(tt.method, tt.cfg))
		})
	}
}

func TestEndpointConfigFor(t *testing.T) {
	t.Run("nil operation", func(t *testing.T) {
		_, ok := ratelimit.EndpointConfigFor(nil)
		assert.False(t, ok)
	})

	t.Run("operation without metadata", func(t *testing.T) {
		_, ok := ratelimit.EndpointConfigFor(&huma.Operation{})
		assert.False(t, ok)
	})

	t.Run("metadata of the wrong type", func(t *testing.T) {
		_, ok := ratelimit.EndpointConfigFor(&huma.Operation{
			Metadata: map[string]any{ratelimit.MetadataKey: "nope"},
		})
		assert.False(t, ok)
	})

	t.Run("configured operation", func(t *testing.T) {
		want := ratelimit.EndpointConfig{Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 5}}}

		got, ok := ratelimit.EndpointConfigFor(&huma.Operation{
			Metadata: map[string]any{ratelimit.MetadataKey: want},
		})

		assert.True(t, ok)
		assert.Equal(t, want, got)
	})
}
