package mirror

import (
	"archive/tar"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/shared/id"
)

// Snapshot archives the folder's contents (minus daemon metadata) into
// .meridian/backups/<id>.tar.zst and prunes old snapshots beyond the
// configured count. Returns the snapshot id.
func (m *Mirror) Snapshot(ctx context.Context, folder string) (string, error) {
	snapID := string(id.NewSnapshotID())
	backups := filepath.Join(folder, metaDir, "backups")
	if err := os.MkdirAll(backups, 0o755); err != nil {
		return "", fmt.Errorf("create backups dir: %w", err)
	}
	dest := filepath.Join(backups, snapID+snapExt)

	if err := m.writeArchive(ctx, folder, dest); err != nil {
		os.Remove(dest)
		return "", err
	}

	m.logger.Info("folder snapshot taken",
		zap.String("folder", folder),
		zap.String("snapshot", snapID))
	m.rotate(folder)
	return snapID, nil
}

func (m *Mirror) writeArchive(ctx context.Context, folder, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	// Walk callbacks run concurrently; tar entries are header+body pairs
	// that must stay contiguous.
	var twMu sync.Mutex

	sep := string(filepath.Separator)
	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, folder, func(path string, d os.DirEntry, err error) error {
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
		if rel == metaDir || strings.HasPrefix(rel, metaDir+sep) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		fi, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if d.IsDir() {
			twMu.Lock()
			defer twMu.Unlock()
			return tw.WriteHeader(&tar.Header{
				Name:     relSlash + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
				ModTime:  fi.ModTime(),
			})
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", relSlash, readErr)
		}
		hdr, hdrErr := tar.FileInfoHeader(fi, "")
		if hdrErr != nil {
			return fmt.Errorf("describe %s: %w", relSlash, hdrErr)
		}
		hdr.Name = relSlash
		twMu.Lock()
		defer twMu.Unlock()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		return fmt.Errorf("archive folder: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}
	return nil
}

// rotate deletes the oldest snapshots beyond snapshotCount. Pruning is
// best effort; a leftover snapshot costs disk, not correctness.
func (m *Mirror) rotate(folder string) {
	backups := filepath.Join(folder, metaDir, "backups")
	entries, err := os.ReadDir(backups)
	if err != nil {
		return
	}

	type snapshot struct {
		name string
		mod  time.Time
	}
	var snaps []snapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapExt) {
			continue
		}
		fi, infoErr := e.Info()
		if infoErr != nil {
			continue
		}
		snaps = append(snaps, snapshot{name: e.Name(), mod: fi.ModTime()})
	}
	if len(snaps) <= m.snapshotCount {
		return
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].mod.Equal(snaps[j].mod) {
			return snaps[i].name < snaps[j].name
		}
		return snaps[i].mod.Before(snaps[j].mod)
	})
	for _, s := range snaps[:len(snaps)-m.snapshotCount] {
		if err := os.Remove(filepath.Join(backups, s.name)); err != nil {
			m.logger.Warn("snapshot not pruned",
				zap.String("snapshot", s.name),
				zap.Error(err))
			continue
		}
		m.logger.Debug("snapshot pruned", zap.String("snapshot", s.name))
	}
}
