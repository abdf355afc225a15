package workspace

import (
	"context"
	"errors"

	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// State names the session's position in the workspace lifecycle.
type State string

const (
	StateSignedOut       State = "SignedOut"
	StateChooseWorkspace State = "ChooseWorkspace"
	StateLoading         State = "LoadingWorkspace"
	StateOpen            State = "WorkspaceOpen"
	StateEmpty           State = "EmptyWorkspace"
)

// ErrNotConnected reports a read attempted while signed out. Recoverable:
// surfaces as a sign-in prompt, never as a failure.
var ErrNotConnected = errors.New("not connected: sign in to browse workspaces")

// ErrRestoring reports that cross-session restoration is mid-fetch. Callers
// render a loading state instead of caching an empty one.
var ErrRestoring = errors.New("workspace restoration in progress")

// Session is the capability surface shared by the live Manager and the
// offline FixtureSession. Subscribers of PropertyChanged re-query state;
// the event carries only the property name.
type Session interface {
	State() State
	Connected() bool
	Restoring() bool

	Current() *types.Workspace
	SetCurrent(ctx context.Context, ws *types.Workspace) error

	Workspaces(ctx context.Context) ([]types.Workspace, error)
	WorkspaceByID(ctx context.Context, id string) (*types.Workspace, error)
	Items(ctx context.Context, workspaceID string) ([]types.Artifact, error)

	// Invalidate marks every cached artifact list stale; the next Items
	// read refetches regardless of which workspace mutated.
	Invalidate()

	PropertyChanged() *events.Feed[string]

	// Visibility filters, keyed by (environment, tenant). An absent key
	// means show all; an empty visible list means hide all.
	VisibleWorkspaceIDs() ([]string, bool)
	SetVisibleWorkspaceIDs(ids []string) error
	AddWorkspaceToFilters(id string) error
	ClearFilters() error
	IsWorkspaceVisible(id string) bool
}

// Mutator is the mutation capability. The fixture session does not carry
// it; surfaces probe with a type assertion before offering mutations.
type Mutator interface {
	CreateWorkspace(ctx context.Context, displayName, description string) (*types.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	CreateArtifact(ctx context.Context, workspaceID string, artifactType types.ArtifactType, displayName string) (*types.Artifact, error)
	DeleteArtifact(ctx context.Context, workspaceID, artifactID string) error
	ArtifactDefinition(ctx context.Context, workspaceID, artifactID string) (*types.ArtifactDefinition, error)
	UpdateArtifactDefinition(ctx context.Context, workspaceID, artifactID string, def *types.ArtifactDefinition) error
}
