package serverdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrdpcache.io/errors"
	"rrdpcache.io/uri"
)

func TestURIPathMapsModuleAndPath(t *testing.T) {
	d := New("/srv/rrdp/abc123")
	u, err := uri.ParseRsync("rsync://repo.example.org/module/sub/file.cer")
	require.NoError(t, err)

	got := d.URIPath(u)
	want := filepath.Join("/srv/rrdp/abc123", "data", "repo.example.org", "module", "sub/file.cer")
	assert.Equal(t, want, got)
}

func TestURIPathBareModuleRoot(t *testing.T) {
	d := New("/srv/rrdp/abc123")
	u, err := uri.ParseRsync("rsync://repo.example.org/module")
	require.NoError(t, err)

	got := d.URIPath(u)
	want := filepath.Join("/srv/rrdp/abc123", "data", "repo.example.org", "module")
	assert.Equal(t, want, got)
}

func TestCreateAllocatesViaAllocator(t *testing.T) {
	parent := t.TempDir()
	d, err := Create(parent, func(p string) (string, error) {
		return filepath.Join(p, "fixed"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parent, "fixed"), d.Base())
	assert.Equal(t, filepath.Join(parent, "fixed", stateFileName), d.StatePath())
}

func TestCreatePropagatesAllocatorFailure(t *testing.T) {
	_, err := Create(t.TempDir(), func(p string) (string, error) {
		return "", errors.Str("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, errors.FsIO, errors.GetKind(err))
}

func TestDigestFailsWhenDataMissing(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "srv"))
	_, err := d.Digest()
	assert.Error(t, err)
}

func TestDigestAndCheckDigestRoundTrip(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "srv"))
	require.NoError(t, os.MkdirAll(filepath.Join(d.DataPath(), "auth", "mod"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(d.DataPath(), "auth", "mod", "a.cer"), []byte("hello"), 0644))

	h, err := d.Digest()
	require.NoError(t, err)
	assert.NoError(t, d.CheckDigest(h))

	require.NoError(t, os.WriteFile(filepath.Join(d.DataPath(), "auth", "mod", "a.cer"), []byte("hello world"), 0644))
	err = d.CheckDigest(h)
	assert.Error(t, err)
	assert.Equal(t, errors.DigestMismatch, errors.GetKind(err))
}
