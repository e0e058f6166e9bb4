package colmap

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// snapshot maps every file under root to its content.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestNormalizeMovesFlatModel(t *testing.T) {
	base := t.TempDir()
	for _, f := range ModelFiles {
		touch(t, filepath.Join(base, "sparse", f+".bin"), f)
	}

	moved, err := NewLayoutNormalizer(zap.NewNop()).Normalize(base)
	require.NoError(t, err)
	assert.Len(t, moved, 3)

	want := map[string]string{
		"sparse/0/cameras.bin":  "cameras",
		"sparse/0/images.bin":   "images",
		"sparse/0/points3D.bin": "points3D",
	}
	if diff := cmp.Diff(want, snapshot(t, base)); diff != "" {
		t.Fatalf("layout (-want +got):\n%s", diff)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "sparse", "cameras.bin"), "c")
	touch(t, filepath.Join(base, "sparse", "images.txt"), "i")
	touch(t, filepath.Join(base, "images", "frame_0000.png"), "p")
	n := NewLayoutNormalizer(zap.NewNop())

	_, err := n.Normalize(base)
	require.NoError(t, err)
	once := snapshot(t, base)

	moved, err := n.Normalize(base)
	require.NoError(t, err)
	assert.Empty(t, moved)

	if diff := cmp.Diff(once, snapshot(t, base)); diff != "" {
		t.Fatalf("second run changed layout (-once +twice):\n%s", diff)
	}
}

func TestNormalizeKeepsExistingCanonicalFile(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "sparse", "cameras.bin"), "stale")
	touch(t, filepath.Join(base, "sparse", "0", "cameras.bin"), "canonical")

	moved, err := NewLayoutNormalizer(zap.NewNop()).Normalize(base)
	require.NoError(t, err)
	assert.Empty(t, moved)

	got := snapshot(t, base)
	assert.Equal(t, "canonical", got["sparse/0/cameras.bin"])
	assert.Equal(t, "stale", got["sparse/cameras.bin"])
}

func TestNormalizeMissingFilesAreNoOps(t *testing.T) {
	base := t.TempDir()

	moved, err := NewLayoutNormalizer(zap.NewNop()).Normalize(base)
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.DirExists(t, filepath.Join(base, "sparse", "0"))
}

func TestNormalizeSkipsDirectoriesNamedLikeModels(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "sparse", "images.bin"), 0o755))

	moved, err := NewLayoutNormalizer(zap.NewNop()).Normalize(base)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestComplete(t *testing.T) {
	base := t.TempDir()
	n := NewLayoutNormalizer(zap.NewNop())

	ok, err := n.Complete(base)
	require.NoError(t, err)
	assert.False(t, ok)

	touch(t, filepath.Join(base, "sparse", "0", "cameras.bin"), "")
	touch(t, filepath.Join(base, "sparse", "0", "images.txt"), "")
	ok, err = n.Complete(base)
	require.NoError(t, err)
	assert.False(t, ok)

	touch(t, filepath.Join(base, "sparse", "0", "points3D.bin"), "")
	ok, err = n.Complete(base)
	require.NoError(t, err)
	assert.True(t, ok)
}
