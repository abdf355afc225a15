package mirror

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/shared/types"
)

// maxPartSize caps a single definition part; the platform rejects larger
// inline payloads.
const maxPartSize = 10 << 20

// Import packs the folder's files into an artifact definition. Paths are
// slash-separated and relative to the folder, payloads are inline base64,
// and parts come back sorted by path. Excluded globs and daemon metadata
// never appear in the result.
func (m *Mirror) Import(ctx context.Context, folder string) (*types.ArtifactDefinition, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("open folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}

	var (
		mu    sync.Mutex
		parts []types.DefinitionPart
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, folder, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || path == folder {
			return nil
		}
		rel, relErr := filepath.Rel(folder, path)
		if relErr != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if m.excluded(relSlash) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, infoErr := d.Info()
		if infoErr != nil || !fi.Mode().IsRegular() {
			return nil
		}
		if fi.Size() > maxPartSize {
			kind := "unknown"
			if mt, mtErr := mimetype.DetectFile(path); mtErr == nil {
				kind = mt.String()
			}
			return fmt.Errorf("part %s too large: %d bytes of %s", relSlash, fi.Size(), kind)
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", relSlash, readErr)
		}
		m.logger.Debug("part packed",
			zap.String("path", relSlash),
			zap.String("type", mimetype.Detect(data).String()),
			zap.Int("bytes", len(data)))
		mu.Lock()
		parts = append(parts, types.DefinitionPart{
			Path:        relSlash,
			Payload:     base64.StdEncoding.EncodeToString(data),
			PayloadType: types.PayloadInlineBase64,
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Path < parts[j].Path })
	return &types.ArtifactDefinition{Parts: parts}, nil
}

// excluded matches relSlash against the exclusion globs. A pattern ending
// in /** also excludes the directory itself, so whole subtrees prune in
// one SkipDir.
func (m *Mirror) excluded(relSlash string) bool {
	for _, pattern := range m.excludes {
		if ok, _ := doublestar.Match(pattern, relSlash); ok {
			return true
		}
		if base := strings.TrimSuffix(pattern, "/**"); base != pattern {
			if ok, _ := doublestar.Match(base, relSlash); ok {
				return true
			}
		}
	}
	return false
}
