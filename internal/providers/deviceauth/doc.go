// Package deviceauth signs the daemon in with the OAuth 2.0 device
// authorization grant (RFC 8628).
//
// # Overview
//
// SignIn requests a device/user code pair, publishes the prompt on the
// DevicePrompts feed for the IDE to display, then polls the token endpoint
// until the user approves, abandons, or the code expires. Tokens are held
// per tenant; an expired access token refreshes on demand, and a rejected
// refresh drops the tenant's credentials and signals SessionChanged.
//
// # Token cache
//
// Between runs, tokens live in a sealed file: a key derived with scrypt
// from a machine-bound secret and a random salt, XChaCha20-Poly1305 for
// the payload, mode 0600. Moving the file to another machine or user
// makes it unreadable. A corrupt cache is discarded, the session just
// starts signed out.
package deviceauth
