package ratelimit

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Scope groups requests that share a policy budget.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
)

// MetadataKey is the huma.Operation metadata key holding an EndpointConfig.
const MetadataKey = "rateLimit"

// EndpointConfig overrides the policy for a single operation.
type EndpointConfig struct {
	// Scope replaces the method-derived scope. Ignored when Limits is set.
	Scope Scope
	// Limits are counted per client and route template instead of the policy.
	Limits []LimitConfig
	// Disabled exempts the operation.
	Disabled bool
}

// EndpointConfigFor returns the configuration attached to op, if any.
func EndpointConfigFor(op *huma.Operation) (EndpointConfig, bool) {
	if op == nil || op.Metadata == nil {
		return EndpointConfig{}, false
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)

	return cfg, ok
}

// Scopes returns the policy scopes that apply to a request. Every request
// counts against ScopeGlobal.
func Scopes(method string, cfg EndpointConfig) []Scope {
	if cfg.Scope != "" {
		return []Scope{ScopeGlobal, cfg.Scope}
	}

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return []Scope{ScopeGlobal, ScopeRead}
	default:
		return []Scope{ScopeGlobal, ScopeWrite}
	}
}
