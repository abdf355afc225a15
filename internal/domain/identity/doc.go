// Package identity owns sign-in and tenant state.
//
// # Overview
//
// Controller is the single source of truth for "is the user signed in" and
// "which tenant is active". Other components never poll the identity
// provider directly; they subscribe to the controller's SignInChanged and
// TenantChanged feeds and re-query state when signaled.
//
// # Transitions
//
// The provider fires its session signal on sign-in, sign-out, and token
// refresh, sometimes several times in quick succession. The transition
// handler serializes on a mutex: it re-evaluates the signed-in state under
// the lock and emits only when the state actually flipped, so a second
// concurrent trigger re-evaluates against the already-updated state and
// stays silent. Signing out also clears the remembered tenant and fires
// TenantChanged.
//
// # Failure policy
//
// Lookups fail soft. Tenant enumeration errors surface as an empty list,
// an unresolvable remembered tenant as nil. Callers treat empty as "retry
// later", never as a hard failure.
package identity
