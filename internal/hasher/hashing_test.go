package hasher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashArray(t *testing.T) {
	assert.Equal(t, HashArray([]string{"a", "b"}), HashArray([]string{"a", "b"}))
	assert.NotEqual(t, HashArray([]string{"a", "b"}), HashArray([]string{"b", "a"}))
	assert.NotEqual(t, HashArray(nil), HashArray([]string{""}))
	assert.Len(t, HashArray(nil), 64)
}

func TestFileHasher_RevalidatesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	f := NewFileHasher(8)
	h1, err := f.HashFile(path)
	require.NoError(t, err)
	again, err := f.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, again)
	assert.Len(t, h1, 16)

	require.NoError(t, os.WriteFile(path, []byte("two!"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	h2, err := f.HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = f.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
