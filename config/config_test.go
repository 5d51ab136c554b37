package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
cache-root: /var/cache/rrdp
tmp-root: /var/cache/rrdp-tmp
publication-points:
  - notify-uri: https://rrdp.example.org/notify.xml
  - notify-uri: https://rrdp.other.org/notify.xml
    dir: /var/cache/rrdp/pinned
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/rrdp", c.CacheRoot)
	require.Len(t, c.PublicationPoints, 2)
	assert.Equal(t, "https://rrdp.example.org/notify.xml", c.PublicationPoints[0].NotifyURI)
	assert.Equal(t, "/var/cache/rrdp/pinned", c.PublicationPoints[1].Dir)
}

func TestLoadRejectsMissingCacheRoot(t *testing.T) {
	path := writeConfig(t, `
tmp-root: /var/cache/rrdp-tmp
publication-points:
  - notify-uri: https://rrdp.example.org/notify.xml
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNoPublicationPoints(t *testing.T) {
	path := writeConfig(t, `
cache-root: /var/cache/rrdp
tmp-root: /var/cache/rrdp-tmp
publication-points: []
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateNotifyURI(t *testing.T) {
	path := writeConfig(t, `
cache-root: /var/cache/rrdp
tmp-root: /var/cache/rrdp-tmp
publication-points:
  - notify-uri: https://rrdp.example.org/notify.xml
  - notify-uri: https://rrdp.example.org/notify.xml
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
