// Package mapping is the persisted translation between remote identifiers
// and local folders: workspace and artifact records, default path
// derivation, and the reverse folder-to-workspace lookup.
package mapping

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// Store derives and persists folder mappings on top of the settings store.
// Every Set call is one persisted save.
type Store struct {
	settings *store.Store
	base     string
	logger   *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the mapping logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l.Named("mapping") }
}

// New creates a mapping store rooted at baseFolder.
func New(settings *store.Store, baseFolder string, opts ...Option) *Store {
	s := &Store{
		settings: settings,
		base:     baseFolder,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultWorkspaceFolder derives {base}/[tenant/]workspace. Pure: identical
// inputs and an unchanged base always yield the identical path. The tenant
// segment appears only when a tenant is selected.
func (s *Store) DefaultWorkspaceFolder(tenant *types.Tenant, ws *types.Workspace) string {
	parts := []string{s.base}
	if tenant != nil {
		segment := tenant.DisplayName
		if segment == "" {
			segment = tenant.TenantID
		}
		parts = append(parts, sanitizeSegment(segment))
	}
	parts = append(parts, sanitizeSegment(ws.DisplayName))
	return filepath.Join(parts...)
}

// WorkspaceFolder returns the explicit mapping for a workspace. False when
// unmapped; a stored empty string is a tombstone, also false.
func (s *Store) WorkspaceFolder(workspaceID string) (string, bool) {
	var folder string
	var ok bool
	s.settings.View(func(set *store.Settings) {
		folder, ok = set.WorkspaceFolder(workspaceID)
	})
	return folder, ok
}

// SetWorkspaceFolder persists the mapping immediately, one save per call.
func (s *Store) SetWorkspaceFolder(workspaceID, folder string) error {
	s.logger.Debug("workspace folder mapped",
		zap.String("workspace", workspaceID),
		zap.String("folder", folder))
	return s.settings.Mutate(func(set *store.Settings) {
		set.SetWorkspaceFolder(workspaceID, folder)
	})
}

// ArtifactFolder resolves the folder for an artifact. The owning workspace
// must be mapped; an artifact is never mapped independently of it. With a
// stored override the override wins; otherwise the folder is synthesized as
// {displayName}.{type} under the workspace folder. Reads never write the
// synthesized name to the override table.
func (s *Store) ArtifactFolder(artifact *types.Artifact) (string, bool) {
	var wsFolder, override string
	var wsOK, overrideOK bool
	s.settings.View(func(set *store.Settings) {
		wsFolder, wsOK = set.WorkspaceFolder(artifact.WorkspaceID)
		override, overrideOK = set.ArtifactFolder(artifact.ID)
	})
	if !wsOK {
		return "", false
	}
	if overrideOK {
		return override, true
	}
	name := sanitizeSegment(artifact.DisplayName) + "." + string(artifact.Type)
	return filepath.Join(wsFolder, name), true
}

// SetArtifactFolder persists an explicit artifact override immediately.
func (s *Store) SetArtifactFolder(artifactID, folder string) error {
	s.logger.Debug("artifact folder mapped",
		zap.String("artifact", artifactID),
		zap.String("folder", folder))
	return s.settings.Mutate(func(set *store.Settings) {
		set.SetArtifactFolder(artifactID, folder)
	})
}

// WorkspaceIDForFolder answers "which workspace owns this folder" by exact
// match over the workspace table. Tombstones never match.
func (s *Store) WorkspaceIDForFolder(folder string) (string, bool) {
	var id string
	var ok bool
	s.settings.View(func(set *store.Settings) {
		for _, rec := range set.Workspaces {
			if rec.LocalFolder != "" && rec.LocalFolder == folder {
				id, ok = rec.WorkspaceID, true
				return
			}
		}
	})
	return id, ok
}

// sanitizeSegment makes a display name usable as a single path segment.
var segmentReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
	"\"", "-", "<", "-", ">", "-", "|", "-",
)

func sanitizeSegment(s string) string {
	return strings.TrimSpace(segmentReplacer.Replace(s))
}
