// Package mirror moves artifact definitions between the platform's part
// lists and local folders: Export unpacks base64 parts onto disk behind a
// safety snapshot, Import packs a folder back into parts for an
// update-definition call.
package mirror

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// metaDir holds daemon bookkeeping inside every mirrored folder; it never
// round-trips through definitions.
const metaDir = ".meridian"

const snapExt = ".tar.zst"

// Mirror converts between definition part lists and folder contents.
type Mirror struct {
	excludes      []string
	snapshotCount int
	logger        *logging.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Mirror) { m.logger = logger }
}

// WithExcludes replaces the import exclusion globs. Patterns match
// slash-separated paths relative to the folder root.
func WithExcludes(patterns []string) Option {
	return func(m *Mirror) { m.excludes = append([]string(nil), patterns...) }
}

// WithSnapshotCount sets how many pre-export snapshots are kept per folder.
func WithSnapshotCount(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.snapshotCount = n
		}
	}
}

// New creates a Mirror with the default exclusions.
func New(opts ...Option) *Mirror {
	m := &Mirror{
		excludes:      []string{metaDir + "/**", "**/.git/**", "**/.DS_Store"},
		snapshotCount: 5,
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Export writes def's parts under folder. When the folder already holds
// content, a snapshot is taken first and its id returned, so a bad export
// never costs local work. The returned snapshot id is valid even when a
// later part fails to write.
func (m *Mirror) Export(ctx context.Context, folder string, def *types.ArtifactDefinition) (string, error) {
	if def == nil {
		return "", errors.New("nil definition")
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}

	snapID := ""
	if m.hasContent(folder) {
		sid, err := m.Snapshot(ctx, folder)
		if err != nil {
			return "", fmt.Errorf("snapshot before export: %w", err)
		}
		snapID = sid
	}

	for _, part := range def.Parts {
		select {
		case <-ctx.Done():
			return snapID, ctx.Err()
		default:
		}
		if part.PayloadType != types.PayloadInlineBase64 {
			return snapID, fmt.Errorf("part %s: unsupported payload type %q", part.Path, part.PayloadType)
		}
		target, err := securePartPath(folder, part.Path)
		if err != nil {
			return snapID, err
		}
		data, err := base64.StdEncoding.DecodeString(part.Payload)
		if err != nil {
			return snapID, fmt.Errorf("part %s: decode payload: %w", part.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return snapID, fmt.Errorf("part %s: create parent: %w", part.Path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return snapID, fmt.Errorf("part %s: write: %w", part.Path, err)
		}
	}

	m.logger.Info("definition exported",
		zap.String("folder", folder),
		zap.Int("parts", len(def.Parts)),
		zap.String("snapshot", snapID))
	return snapID, nil
}

// securePartPath confines a part path to the folder. Definitions come
// from the remote service; a part must never write outside its artifact
// folder or into the daemon's metadata.
func securePartPath(folder, partPath string) (string, error) {
	if partPath == "" {
		return "", errors.New("empty part path")
	}
	clean := filepath.Clean(filepath.FromSlash(partPath))
	sep := string(filepath.Separator)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+sep) {
		return "", fmt.Errorf("part path %q escapes the artifact folder", partPath)
	}
	if clean == metaDir || strings.HasPrefix(clean, metaDir+sep) {
		return "", fmt.Errorf("part path %q collides with daemon metadata", partPath)
	}
	return filepath.Join(folder, clean), nil
}

// hasContent reports whether folder holds anything beyond daemon metadata.
func (m *Mirror) hasContent(folder string) bool {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() != metaDir {
			return true
		}
	}
	return false
}
