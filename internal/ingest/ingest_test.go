package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoadHashesContent(t *testing.T) {
	dir := t.TempDir()
	data := []byte("\x89PNG fake image bytes")
	path := filepath.Join(dir, "scan.PNG")
	writeFile(t, path, data)

	doc, err := NewFSIngestor(5, nil).Load(context.Background(), path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), doc.ContentHash)
	require.Equal(t, constants.IMAGE, doc.Format)
	require.Equal(t, int64(len(data)), doc.Size)
	require.Empty(t, doc.TextLayer)
	require.True(t, filepath.IsAbs(doc.Path))
}

func TestLoadBrokenPDFStillProducesDocument(t *testing.T) {
	doc, err := NewFSIngestor(5, nil).FromBytes("/in/broken.pdf", []byte("not really a pdf"))
	require.NoError(t, err)
	require.Equal(t, constants.PDF, doc.Format)
	require.Empty(t, doc.TextLayer)
	require.Len(t, doc.ContentHash, 64)
}

func TestLoadRejects(t *testing.T) {
	ing := NewFSIngestor(5, nil)

	_, err := ing.FromBytes("notes.txt", []byte("x"))
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = ing.FromBytes("empty.pdf", nil)
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = ing.Load(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestSameBytesSameHash(t *testing.T) {
	ing := NewFSIngestor(5, nil)
	a, err := ing.FromBytes("/a/one.jpg", []byte("same"))
	require.NoError(t, err)
	b, err := ing.FromBytes("/b/two.jpeg", []byte("same"))
	require.NoError(t, err)
	require.Equal(t, a.ContentHash, b.ContentHash)
}

func TestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), []byte("a"))
	writeFile(t, filepath.Join(root, "sub", "b.jpg"), []byte("b"))
	writeFile(t, filepath.Join(root, "sub", "empty.jpeg"), nil)
	writeFile(t, filepath.Join(root, "readme.txt"), []byte("skip"))
	writeFile(t, filepath.Join(root, ".hidden", "c.png"), []byte("c"))

	results, stats, err := NewFSIngestor(5, nil).Directory(context.Background(), root, true)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Matched)
	require.EqualValues(t, 2, stats.Succeeded)
	require.EqualValues(t, 1, stats.Failed)
	require.Len(t, results, 3)

	_, stats, err = NewFSIngestor(5, nil).Directory(context.Background(), root, false)
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.Matched)
}

func TestDirectoryRequiresRoot(t *testing.T) {
	_, _, err := NewFSIngestor(5, nil).Directory(context.Background(), "  ", false)
	require.Error(t, err)
}

func TestDirectoryCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), []byte("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewFSIngestor(5, nil).Directory(ctx, root, false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWatcherEmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"), []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, SkipHidden: true}, nil)
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watcher event")
			return ""
		}
	}
	require.Equal(t, filepath.Join(root, "existing.pdf"), next())

	writeFile(t, filepath.Join(root, "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(root, "new.png"), []byte("y"))
	require.Equal(t, filepath.Join(root, "new.png"), next())
}

func TestWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, nil)
	require.Error(t, err)
}
