// Package workspace tracks which remote workspace the user is browsing and
// caches what lives inside it.
//
// # Overview
//
// The Manager is the live implementation: it talks to the platform API,
// reacts to session and tenant changes from the identity controller, and
// persists the current selection so the next daemon start can restore it.
// FixtureSession serves the same Session interface from a local JSON file
// for offline UI work.
//
// # Lifecycle
//
//	SignedOut -> ChooseWorkspace     successful sign-in
//	ChooseWorkspace -> Loading       restoration fetch in flight
//	Loading -> WorkspaceOpen         remembered workspace still exists
//	Loading -> ChooseWorkspace       fetch failed or workspace gone
//	WorkspaceOpen <-> EmptyWorkspace artifact list emptiness
//	any -> SignedOut                 sign-out
//
// Restoration runs once per activation. A tenant change clears every cache
// and re-arms it; a plain sign-in after sign-out lands on ChooseWorkspace
// and waits for an explicit selection.
//
// # Caching
//
// Workspace records cache forever on any 2xx fetch; a 404 is reported as
// absence and never cached. Artifact lists carry the generation counter
// they were fetched under: every mutation bumps the counter, so one create
// or delete anywhere invalidates every list at once without tracking which
// workspace changed.
package workspace
