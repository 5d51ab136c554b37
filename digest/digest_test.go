package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
		require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	}
}

func TestTreeIndependentOfReaddirOrder(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, map[string]string{
		"r/m/a": "x",
		"r/m/b": "yy",
		"r/n/c": "zzz",
	})
	// Same structure, built in a different order, under a different root
	// name, to rule out any dependence on creation or readdir order.
	writeTree(t, b, map[string]string{
		"r/n/c": "zzz",
		"r/m/b": "yy",
		"r/m/a": "x",
	})

	ha, err := Tree(a)
	require.NoError(t, err)
	hb, err := Tree(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestTreeChangesWithContentLength(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"r/m/a": "x"})
	h1, err := Tree(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "r/m/a"), []byte("xx"), 0600))
	h2, err := Tree(root)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestTreeStableAfterTransientFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"r/m/a": "x"})
	h1, err := Tree(root)
	require.NoError(t, err)

	tmp := filepath.Join(root, "r/m/transient")
	require.NoError(t, os.WriteFile(tmp, []byte("gone soon"), 0600))
	require.NoError(t, os.Remove(tmp))

	h2, err := Tree(root)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashStringParseRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"r/m/a": "x"})
	h, err := Tree(root)
	require.NoError(t, err)

	parsed, err := Parse(h.String())
	require.NoError(t, err)
	assert.True(t, h.Equal(parsed))
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("deadbeef")
	assert.Error(t, err)
}
