package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps one JSON file per entry in a directory.
type FSStore struct {
	dir    string
	logger *slog.Logger
}

func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Write replaces the entry atomically via temp file + rename.
func (s *FSStore) Write(ctx context.Context, e Entry) error {
	if err := validKey(e.Key); err != nil {
		return err
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+e.Key+"-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(e.Key)); err != nil {
		return fmt.Errorf("rename entry: %w", err)
	}
	s.logger.Info("quarantine.write.ok", "backend", "fs", "key", e.Key, "decision", e.Decision, "reason", e.Reason)
	return nil
}

func (s *FSStore) Get(_ context.Context, key string) (Entry, error) {
	if err := validKey(key); err != nil {
		return Entry{}, err
	}
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: quarantine entry %s", ErrNotFound, key)
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, nil
}

func (s *FSStore) List(ctx context.Context) ([]Entry, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		e, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("quarantine.list.skip", "file", name, "error", err)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: quarantine entry %s", ErrNotFound, key)
	}
	if err == nil {
		s.logger.Info("quarantine.delete.ok", "backend", "fs", "key", key)
	}
	return err
}
