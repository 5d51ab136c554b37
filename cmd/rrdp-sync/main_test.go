package main

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrdpcache.io/config"
	"rrdpcache.io/fetch/memfetch"
	"rrdpcache.io/metrics"
	"rrdpcache.io/rrdp"
	"rrdpcache.io/server"
	"rrdpcache.io/uri"

	"github.com/google/uuid"
)

func TestBuildServersOneSigletonPerPublicationPoint(t *testing.T) {
	cfg := config.Config{
		CacheRoot: t.TempDir(),
		TmpRoot:   t.TempDir(),
		PublicationPoints: []config.PublicationPoint{
			{NotifyURI: "https://rrdp.example.org/a/notify.xml"},
			{NotifyURI: "https://rrdp.example.org/b/notify.xml"},
		},
	}

	servers, err := buildServers(cfg, metrics.Noop)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "https://rrdp.example.org/a/notify.xml", servers[0].NotifyURI().String())
	assert.Equal(t, "https://rrdp.example.org/b/notify.xml", servers[1].NotifyURI().String())
	assert.NotEqual(t, servers[0].ServerDir(), servers[1].ServerDir())
}

func TestBuildServersRejectsBadNotifyURI(t *testing.T) {
	cfg := config.Config{
		CacheRoot: t.TempDir(),
		TmpRoot:   t.TempDir(),
		PublicationPoints: []config.PublicationPoint{
			{NotifyURI: "not-a-url"},
		},
	}
	_, err := buildServers(cfg, metrics.Noop)
	assert.Error(t, err)
}

func TestRunUpdatesCoversEveryServer(t *testing.T) {
	tmpRoot := t.TempDir()
	client := memfetch.New(tmpRoot)
	client.SetNotification(&rrdp.NotificationFile{SessionID: uuid.New(), Serial: 1})
	client.SetSnapshot([]memfetch.Object{{URI: "rsync://r/m/a", Body: []byte("x")}})

	var servers []*server.Server
	for i := 0; i < 5; i++ {
		notifyURI, err := uri.ParseHttps("https://rrdp.example.org/notify.xml")
		require.NoError(t, err)
		servers = append(servers, server.Create(notifyURI, t.TempDir()))
	}

	runUpdates(servers, client, 2)

	var updated atomic.Int64
	for _, s := range servers {
		_, ok, err := s.LoadFile(mustRsync(t, "rsync://r/m/a"))
		require.NoError(t, err)
		if ok {
			updated.Add(1)
		}
	}
	assert.Equal(t, int64(5), updated.Load())
}

func mustRsync(t *testing.T, s string) uri.Rsync {
	t.Helper()
	u, err := uri.ParseRsync(s)
	require.NoError(t, err)
	return u
}
