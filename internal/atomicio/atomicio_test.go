package atomicio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermark.json")

	require.NoError(t, WriteFile(path, []byte(`{"a":1}`), 0o644))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestWriteFileInCreatesDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "state", "nested")

	require.NoError(t, WriteFileIn(dir, "offset.json", []byte("1"), 0o644))
	got, err := os.ReadFile(filepath.Join(dir, "offset.json"))
	require.NoError(t, err)
	require.Equal(t, "1", string(got))
}
