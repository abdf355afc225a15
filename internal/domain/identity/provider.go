package identity

import (
	"context"
	"time"

	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// Provider is the identity seam. The production implementation lives in
// internal/providers/deviceauth; tests substitute fakes.
//
// Implementations must not call back into the Controller from IsSignedIn:
// the transition handler evaluates it under the transition lock.
type Provider interface {
	// IsSignedIn reports whether a usable session exists for tenantID
	// (empty means the home tenant) without prompting the user.
	IsSignedIn(ctx context.Context, tenantID string) (bool, error)

	// SignIn acquires a session, prompting the user if needed. Returns
	// false when the user abandoned the prompt. Implementations fire
	// SessionChanged on success.
	SignIn(ctx context.Context, tenantID string) (bool, error)

	// SignOut drops the session and fires SessionChanged.
	SignOut(ctx context.Context) error

	// Tenants enumerates the tenants reachable from the home-tenant token.
	Tenants(ctx context.Context) ([]types.Tenant, error)

	// SessionInfo describes the active session, nil when signed out.
	SessionInfo(ctx context.Context) (*SessionInfo, error)

	// SessionChanged fires whenever the session may have changed:
	// sign-in, sign-out, token refresh, refresh failure.
	SessionChanged() *events.Feed[events.Signal]
}

// SessionInfo describes an active identity session.
type SessionInfo struct {
	Account   string    `json:"account"`
	TenantID  string    `json:"tenantId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
