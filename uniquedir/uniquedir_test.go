package uniquedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMakesParentAndUniqueDirs(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested", "cache-root")

	a, err := Create(parent)
	require.NoError(t, err)
	b, err := Create(parent)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.DirExists(t, a)
	assert.DirExists(t, b)

	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
