package rrdphttp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rrdpcache.io/uri"
)

// buildSnapshot returns the snapshot document body and its SHA-256 hash.
func buildSnapshot(t *testing.T, objs map[string]string) (string, [32]byte) {
	t.Helper()
	body := `<snapshot version="1" session_id="x" serial="1">`
	for u, content := range objs {
		body += fmt.Sprintf(`<publish uri="%s">%s</publish>`, u, base64.StdEncoding.EncodeToString([]byte(content)))
	}
	body += `</snapshot>`
	return body, sha256.Sum256([]byte(body))
}

func TestNotificationFileSnapshotAndDelta(t *testing.T) {
	snapBody, snapHash := buildSnapshot(t, map[string]string{
		"rsync://repo/module/a.cer": "alpha",
		"rsync://repo/module/b.cer": "bravo",
	})

	deltaBody := `<delta version="1" session_id="x" serial="2">` +
		`<publish uri="rsync://repo/module/c.cer">` + base64.StdEncoding.EncodeToString([]byte("charlie")) + `</publish>` +
		`<withdraw uri="rsync://repo/module/a.cer"/>` +
		`</delta>`
	deltaHash := sha256.Sum256([]byte(deltaBody))

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(snapBody))
	})
	mux.HandleFunc("/delta2.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deltaBody))
	})
	var notifyBody string
	mux.HandleFunc("/notify.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(notifyBody))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	notifyBody = fmt.Sprintf(
		`<notification version="1" session_id="2275f911-d3b4-4e98-836a-6bf62d2f092b" serial="2">`+
			`<snapshot uri="%s/snapshot.xml" hash="%s"/>`+
			`<delta serial="2" uri="%s/delta2.xml" hash="%s"/>`+
			`</notification>`,
		srv.URL, hex.EncodeToString(snapHash[:]),
		srv.URL, hex.EncodeToString(deltaHash[:]),
	)

	c := New(t.TempDir())
	c.http = srv.Client()
	notifyURI, err := uri.ParseHttps(srv.URL + "/notify.xml")
	require.NoError(t, err)

	notify, err := c.NotificationFile(context.Background(), notifyURI)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), notify.Serial)
	require.Len(t, notify.Deltas, 1)

	tmp := t.TempDir()
	pathFn := func(u uri.Rsync) string {
		return filepath.Join(tmp, u.Module().Authority, u.Module().Name, u.Path())
	}

	require.NoError(t, c.Snapshot(context.Background(), notify, pathFn))
	aURI, err := uri.ParseRsync("rsync://repo/module/a.cer")
	require.NoError(t, err)
	data, err := os.ReadFile(pathFn(aURI))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	targets, err := c.NewDeltaTargets(c.TmpDir())
	require.NoError(t, err)
	require.NoError(t, c.Delta(context.Background(), notifyURI, notify, notify.Deltas[0], targets, pathFn))
	require.NoError(t, targets.Apply())

	_, err = os.Stat(pathFn(aURI))
	assert.True(t, os.IsNotExist(err), "withdrawn object should be gone")

	cURI, err := uri.ParseRsync("rsync://repo/module/c.cer")
	require.NoError(t, err)
	data, err = os.ReadFile(pathFn(cURI))
	require.NoError(t, err)
	assert.Equal(t, "charlie", string(data))
}

func TestSnapshotRejectsBadHash(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<snapshot version="1" session_id="x" serial="1"></snapshot>`))
	})
	var notifyBody string
	mux.HandleFunc("/notify.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(notifyBody))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	notifyBody = fmt.Sprintf(
		`<notification version="1" session_id="2275f911-d3b4-4e98-836a-6bf62d2f092b" serial="1">`+
			`<snapshot uri="%s/snapshot.xml" hash="%s"/>`+
			`</notification>`,
		srv.URL, hex.EncodeToString(make([]byte, 32)),
	)

	c := New(t.TempDir())
	c.http = srv.Client()
	notifyURI, err := uri.ParseHttps(srv.URL + "/notify.xml")
	require.NoError(t, err)

	notify, err := c.NotificationFile(context.Background(), notifyURI)
	require.NoError(t, err)

	err = c.Snapshot(context.Background(), notify, func(u uri.Rsync) string { return t.TempDir() })
	assert.Error(t, err)
}
