package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Directory walks root, skips hidden entries if requested,
// and loads each allowed file. Returns per-file results + aggregate stats.
func (i *FSIngestor) Directory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		doc, err := i.Load(ctx, path)
		if err != nil {
			results = append(results, Result{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, Result{Path: path, Document: doc})
		stats.Succeeded++
		return nil
	})

	i.logger.Info("ingest.directory.done", "root", root,
		"scanned", stats.Scanned, "matched", stats.Matched, "succeeded", stats.Succeeded, "failed", stats.Failed)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
