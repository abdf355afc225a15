package store

import (
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// Settings is the persisted state layout. Field names match the on-disk
// JSON keys consumed by earlier releases; renaming one is a breaking
// change for existing state files.
type Settings struct {
	CurrentTenant       *types.Tenant         `json:"currentTenant,omitempty"`
	MostRecentWorkspace string                `json:"mostRecentWorkspace,omitempty"`
	LoginState          bool                  `json:"loginState"`
	Workspaces          []WorkspaceRecord     `json:"workspaces,omitempty"`
	Artifacts           []ArtifactRecord      `json:"artifacts,omitempty"`
	WorkspaceFilters    map[string][]string   `json:"workspaceFilters,omitempty"`
	ViewState           map[string]*ViewState `json:"viewState,omitempty"`
}

// WorkspaceRecord associates a remote workspace with a local folder.
// An empty LocalFolder is a tombstone, not a valid target.
type WorkspaceRecord struct {
	WorkspaceID string `json:"workspaceId"`
	LocalFolder string `json:"localFolder,omitempty"`
}

// ArtifactRecord associates a remote artifact with a local folder
// override. Absence means the folder name is derived from the artifact's
// display name and type at read time.
type ArtifactRecord struct {
	ArtifactID  string `json:"artifactId"`
	LocalFolder string `json:"localFolder,omitempty"`
}

// ViewState records which tree nodes are expanded for one
// environment:tenant pair. The daemon stores it verbatim for IDE
// clients; nothing in the core interprets it.
type ViewState struct {
	ExpandedTenants           []string            `json:"expandedTenants,omitempty"`
	ExpandedWorkspaces        []string            `json:"expandedWorkspaces,omitempty"`
	ExpandedGroupsByWorkspace map[string][]string `json:"expandedGroupsByWorkspace,omitempty"`
}

// WorkspaceFolder returns the mapped folder for a workspace id. The
// second result is false when no record exists or the stored path is the
// empty tombstone.
func (s *Settings) WorkspaceFolder(workspaceID string) (string, bool) {
	for _, rec := range s.Workspaces {
		if rec.WorkspaceID == workspaceID {
			if rec.LocalFolder == "" {
				return "", false
			}
			return rec.LocalFolder, true
		}
	}
	return "", false
}

// SetWorkspaceFolder upserts the folder mapping for a workspace id.
func (s *Settings) SetWorkspaceFolder(workspaceID, folder string) {
	for i, rec := range s.Workspaces {
		if rec.WorkspaceID == workspaceID {
			s.Workspaces[i].LocalFolder = folder
			return
		}
	}
	s.Workspaces = append(s.Workspaces, WorkspaceRecord{WorkspaceID: workspaceID, LocalFolder: folder})
}

// ArtifactFolder returns the explicit folder override for an artifact
// id, with the same tombstone semantics as WorkspaceFolder.
func (s *Settings) ArtifactFolder(artifactID string) (string, bool) {
	for _, rec := range s.Artifacts {
		if rec.ArtifactID == artifactID {
			if rec.LocalFolder == "" {
				return "", false
			}
			return rec.LocalFolder, true
		}
	}
	return "", false
}

// SetArtifactFolder upserts the folder override for an artifact id.
func (s *Settings) SetArtifactFolder(artifactID, folder string) {
	for i, rec := range s.Artifacts {
		if rec.ArtifactID == artifactID {
			s.Artifacts[i].LocalFolder = folder
			return
		}
	}
	s.Artifacts = append(s.Artifacts, ArtifactRecord{ArtifactID: artifactID, LocalFolder: folder})
}

// clone returns a deep copy so readers can never alias the store's
// internal state.
func (s *Settings) clone() *Settings {
	cp := *s
	if s.CurrentTenant != nil {
		t := *s.CurrentTenant
		cp.CurrentTenant = &t
	}
	cp.Workspaces = append([]WorkspaceRecord(nil), s.Workspaces...)
	cp.Artifacts = append([]ArtifactRecord(nil), s.Artifacts...)
	if s.WorkspaceFilters != nil {
		cp.WorkspaceFilters = make(map[string][]string, len(s.WorkspaceFilters))
		for k, v := range s.WorkspaceFilters {
			cp.WorkspaceFilters[k] = append([]string(nil), v...)
		}
	}
	if s.ViewState != nil {
		cp.ViewState = make(map[string]*ViewState, len(s.ViewState))
		for k, v := range s.ViewState {
			vs := ViewState{
				ExpandedTenants:    append([]string(nil), v.ExpandedTenants...),
				ExpandedWorkspaces: append([]string(nil), v.ExpandedWorkspaces...),
			}
			if v.ExpandedGroupsByWorkspace != nil {
				vs.ExpandedGroupsByWorkspace = make(map[string][]string, len(v.ExpandedGroupsByWorkspace))
				for wk, groups := range v.ExpandedGroupsByWorkspace {
					vs.ExpandedGroupsByWorkspace[wk] = append([]string(nil), groups...)
				}
			}
			cp.ViewState[k] = &vs
		}
	}
	return &cp
}
