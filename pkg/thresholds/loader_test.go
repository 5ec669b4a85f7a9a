package thresholds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack-1.4.0.yaml"), []byte(testPackDoc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))

	assert.Equal(t, []string{"1.4.0"}, r.Versions())
}

func TestLoadDir_BadDocumentFailsWithFileName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("version: [nope"), 0o600))

	r := NewRegistry()
	err := r.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
