package dsl

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the authenticated identity attached to a call. Created
// once per request by the auth layer and never mutated afterwards.
type Principal struct {
	TenantID string            `json:"tenant_id"`
	UserID   string            `json:"user_id"`
	Roles    []string          `json:"roles"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasRole checks whether the principal carries a specific role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RunContext is the per-call evaluation context. StoreHandle is opaque
// to the governance core; only the external executor dereferences it.
type RunContext struct {
	Principal   Principal
	StoreHandle any
	RequestID   string
	TraceID     string
	Now         time.Time
	Metadata    map[string]string
}

// NewRunContext builds a RunContext with a fresh request id and the
// current time pinned for the lifetime of the call.
func NewRunContext(principal Principal, storeHandle any) RunContext {
	return RunContext{
		Principal:   principal,
		StoreHandle: storeHandle,
		RequestID:   uuid.New().String(),
		Now:         time.Now().UTC(),
	}
}
