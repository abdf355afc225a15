package workspace

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/meridianhq/meridian-sync/internal/shared/events"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// FixtureEnvironment tags artifacts served from a fixture so they can
// never be mistaken for live platform data.
const FixtureEnvironment = "fixture"

// fixtureFile is the on-disk fixture layout: a workspace list plus a map
// from workspace id to its artifacts.
type fixtureFile struct {
	Workspaces []types.Workspace           `json:"workspaces"`
	Items      map[string][]types.Artifact `json:"items"`
}

// FixtureSession serves canned workspaces from a local JSON file. It
// implements Session without any remote calls so UI work proceeds offline;
// it deliberately does not implement Mutator.
type FixtureSession struct {
	mu         sync.RWMutex
	state      State
	current    *types.Workspace
	workspaces []types.Workspace
	items      map[string][]types.Artifact

	filtered   bool
	visibleIDs []string

	propertyChanged *events.Feed[string]
}

var _ Session = (*FixtureSession)(nil)

// NewFixtureSession loads a fixture from path.
func NewFixtureSession(path string) (*FixtureSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f fixtureFile
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	sortWorkspaces(f.Workspaces)
	for id, artifacts := range f.Items {
		for i := range artifacts {
			artifacts[i].Environment = FixtureEnvironment
			artifacts[i].WorkspaceID = id
		}
	}
	if f.Items == nil {
		f.Items = make(map[string][]types.Artifact)
	}
	return &FixtureSession{
		state:           StateChooseWorkspace,
		workspaces:      f.Workspaces,
		items:           f.Items,
		propertyChanged: events.NewFeed[string](),
	}, nil
}

func (f *FixtureSession) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Connected is always true: the fixture needs no sign-in.
func (f *FixtureSession) Connected() bool { return true }

func (f *FixtureSession) Restoring() bool { return false }

func (f *FixtureSession) Current() *types.Workspace {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyWorkspace(f.current)
}

func (f *FixtureSession) SetCurrent(_ context.Context, ws *types.Workspace) error {
	f.mu.Lock()
	if ws == nil {
		f.current = nil
		f.state = StateChooseWorkspace
	} else {
		cp := *ws
		f.current = &cp
		if len(f.items[ws.ObjectID]) == 0 {
			f.state = StateEmpty
		} else {
			f.state = StateOpen
		}
	}
	f.mu.Unlock()
	f.propertyChanged.Emit("currentWorkspace")
	return nil
}

func (f *FixtureSession) Workspaces(context.Context) ([]types.Workspace, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]types.Workspace(nil), f.workspaces...), nil
}

func (f *FixtureSession) WorkspaceByID(_ context.Context, id string) (*types.Workspace, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := range f.workspaces {
		if f.workspaces[i].ObjectID == id {
			return copyWorkspace(&f.workspaces[i]), nil
		}
	}
	return nil, nil
}

func (f *FixtureSession) Items(_ context.Context, workspaceID string) ([]types.Artifact, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]types.Artifact(nil), f.items[workspaceID]...), nil
}

func (f *FixtureSession) Invalidate() {}

func (f *FixtureSession) PropertyChanged() *events.Feed[string] {
	return f.propertyChanged
}

func (f *FixtureSession) VisibleWorkspaceIDs() ([]string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.filtered {
		return nil, false
	}
	return append([]string{}, f.visibleIDs...), true
}

func (f *FixtureSession) SetVisibleWorkspaceIDs(ids []string) error {
	f.mu.Lock()
	f.filtered = true
	f.visibleIDs = append([]string(nil), ids...)
	f.mu.Unlock()
	f.propertyChanged.Emit("filters")
	return nil
}

func (f *FixtureSession) AddWorkspaceToFilters(id string) error {
	f.mu.Lock()
	if !f.filtered {
		f.mu.Unlock()
		return nil
	}
	for _, existing := range f.visibleIDs {
		if existing == id {
			f.mu.Unlock()
			return nil
		}
	}
	f.visibleIDs = append(f.visibleIDs, id)
	f.mu.Unlock()
	f.propertyChanged.Emit("filters")
	return nil
}

func (f *FixtureSession) ClearFilters() error {
	f.mu.Lock()
	f.filtered = false
	f.visibleIDs = nil
	f.mu.Unlock()
	f.propertyChanged.Emit("filters")
	return nil
}

func (f *FixtureSession) IsWorkspaceVisible(id string) bool {
	ids, filtered := f.VisibleWorkspaceIDs()
	if !filtered {
		return true
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
