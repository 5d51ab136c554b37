// Package rrdphttp is the production fetch.Client: it speaks HTTPS to a
// publication point, parses the RRDP XML documents (RFC 8182), and writes
// verified object bodies to the paths the core supplies.
package rrdphttp

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"rrdpcache.io/errors"
	"rrdpcache.io/fetch"
	"rrdpcache.io/rrdp"
	"rrdpcache.io/uri"
)

// Client is an HTTPS-backed fetch.Client.
type Client struct {
	http    *http.Client
	tmpDir  string
	retries int
	backoff backoff.Backoff
}

// New returns a Client whose scratch space is tmpDir. Its *http.Transport
// is configured the same way as a long-lived connection-reusing client:
// shared keep-alive dialer, bounded idle connections, TLS handshake and
// dial timeouts, but no fixed overall request timeout since snapshot
// downloads can legitimately be large and slow; callers control that via
// ctx instead.
func New(tmpDir string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		http:    &http.Client{Transport: transport},
		tmpDir:  tmpDir,
		retries: 3,
		backoff: backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2},
	}
}

var _ fetch.Client = (*Client)(nil)

// notificationXML, snapshotXML and deltaXML mirror the subset of RFC 8182's
// elements the core consumes. Field names keep the wire's lowercase/underscore
// vocabulary as XML attributes, matching the documents as published.
type notificationXML struct {
	XMLName xml.Name `xml:"notification"`
	Session string   `xml:"session_id,attr"`
	Serial  uint64   `xml:"serial,attr"`
	Snapshot struct {
		URI  string `xml:"uri,attr"`
		Hash string `xml:"hash,attr"`
	} `xml:"snapshot"`
	Deltas []struct {
		Serial uint64 `xml:"serial,attr"`
		URI    string `xml:"uri,attr"`
		Hash   string `xml:"hash,attr"`
	} `xml:"delta"`
}

// publishXML is a <publish> element: the object's rsync URI as an
// attribute and its base64-encoded body as element content.
type publishXML struct {
	URI  string `xml:"uri,attr"`
	Body string `xml:",chardata"`
}

type withdrawXML struct {
	URI string `xml:"uri,attr"`
}

type snapshotXML struct {
	XMLName   xml.Name     `xml:"snapshot"`
	Publishes []publishXML `xml:"publish"`
}

type deltaXML struct {
	XMLName  xml.Name      `xml:"delta"`
	Publish  []publishXML  `xml:"publish"`
	Withdraw []withdrawXML `xml:"withdraw"`
}

// NotificationFile fetches and parses notifyURI, retrying transient
// transport failures (connection errors and 5xx responses) a bounded
// number of times before giving up.
func (c *Client) NotificationFile(ctx context.Context, notifyURI uri.Https) (*rrdp.NotificationFile, error) {
	b := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.E("NotificationFile", notifyURI.String(), errors.Transport, ctx.Err())
			case <-time.After(b.Duration()):
			}
		}
		body, err := c.getRetryable(ctx, notifyURI.String())
		if err != nil {
			lastErr = err
			if _, permanent := err.(*permanentError); permanent {
				break
			}
			continue
		}
		var doc notificationXML
		if err := xml.Unmarshal(body, &doc); err != nil {
			return nil, errors.E("NotificationFile", notifyURI.String(), errors.Transport, err)
		}
		return decodeNotification(doc)
	}
	return nil, errors.E("NotificationFile", notifyURI.String(), errors.Transport, lastErr)
}

func decodeNotification(doc notificationXML) (*rrdp.NotificationFile, error) {
	session, err := parseUUID(doc.Session)
	if err != nil {
		return nil, errors.E("NotificationFile", errors.Transport, err)
	}
	snapURI, err := uri.ParseHttps(doc.Snapshot.URI)
	if err != nil {
		return nil, errors.E("NotificationFile", errors.Transport, err)
	}
	snapHash, err := parseHash(doc.Snapshot.Hash)
	if err != nil {
		return nil, errors.E("NotificationFile", errors.Transport, err)
	}

	n := &rrdp.NotificationFile{
		SessionID: session,
		Serial:    doc.Serial,
		Snapshot:  rrdp.UriAndHash{URI: snapURI, Hash: snapHash},
	}
	for _, d := range doc.Deltas {
		u, err := uri.ParseHttps(d.URI)
		if err != nil {
			return nil, errors.E("NotificationFile", errors.Transport, err)
		}
		h, err := parseHash(d.Hash)
		if err != nil {
			return nil, errors.E("NotificationFile", errors.Transport, err)
		}
		n.Deltas = append(n.Deltas, rrdp.DeltaInfo{Serial: d.Serial, UriAndHash: rrdp.UriAndHash{URI: u, Hash: h}})
	}
	return n, nil
}

// Snapshot fetches the document named by notify.Snapshot and every object
// it lists, writing each verified body to pathFn's destination.
func (c *Client) Snapshot(ctx context.Context, notify *rrdp.NotificationFile, pathFn fetch.PathFunc) error {
	body, err := c.getVerified(ctx, notify.Snapshot.URI.String(), notify.Snapshot.Hash)
	if err != nil {
		return errors.E("Snapshot", errors.Transport, err)
	}
	var doc snapshotXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return errors.E("Snapshot", errors.Transport, err)
	}
	for _, p := range doc.Publishes {
		u, err := uri.ParseRsync(p.URI)
		if err != nil {
			return errors.E("Snapshot", errors.Transport, err)
		}
		objBody, err := decodePublishBody(p.Body)
		if err != nil {
			return errors.E("Snapshot", errors.Transport, err)
		}
		if err := writeAtomically(pathFn(u), objBody); err != nil {
			return errors.E("Snapshot", errors.FsIO, err)
		}
	}
	return nil
}

// Delta fetches one delta document and appends its withdraw/publish
// operations to targets.
func (c *Client) Delta(ctx context.Context, notifyURI uri.Https, notify *rrdp.NotificationFile, delta rrdp.DeltaInfo, targets fetch.DeltaTargets, pathFn fetch.PathFunc) error {
	body, err := c.getVerified(ctx, delta.URI.String(), delta.Hash)
	if err != nil {
		return errors.E("Delta", errors.Transport, err)
	}
	var doc deltaXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return errors.E("Delta", errors.Transport, err)
	}

	batch, ok := targets.(*DeltaTargets)
	if !ok {
		return errors.E("Delta", errors.Transport, errors.Str("targets not created by this client"))
	}
	for _, w := range doc.Withdraw {
		u, err := uri.ParseRsync(w.URI)
		if err != nil {
			return errors.E("Delta", errors.Transport, err)
		}
		batch.withdraw(pathFn(u))
	}
	for _, p := range doc.Publish {
		u, err := uri.ParseRsync(p.URI)
		if err != nil {
			return errors.E("Delta", errors.Transport, err)
		}
		objBody, err := decodePublishBody(p.Body)
		if err != nil {
			return errors.E("Delta", errors.Transport, err)
		}
		batch.publish(pathFn(u), objBody)
	}
	return nil
}

// TmpDir returns the client's scratch root.
func (c *Client) TmpDir() string {
	return c.tmpDir
}

// NewDeltaTargets constructs an empty staging batch rooted at tmpDir.
func (c *Client) NewDeltaTargets(tmpDir string) (fetch.DeltaTargets, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, errors.E("NewDeltaTargets", errors.FsIO, err)
	}
	return &DeltaTargets{}, nil
}

// DeltaTargets stages publish/withdraw operations, in order, until Apply
// runs them.
type DeltaTargets struct {
	ops []stagedOp
}

// stagedOp is one staged publish, or a withdrawal when withdraw is set.
type stagedOp struct {
	path     string
	body     []byte
	withdraw bool
}

func (d *DeltaTargets) publish(path string, body []byte) {
	d.ops = append(d.ops, stagedOp{path: path, body: body})
}

func (d *DeltaTargets) withdraw(path string) {
	d.ops = append(d.ops, stagedOp{path: path, withdraw: true})
}

// Apply performs the staged publishes and withdrawals in the order they
// were staged. A failure partway through returns the error and leaves the
// operations already performed in place; they are not reverted. The core
// then falls back to a snapshot update, and if that fails too, checkBroken
// compares the tree's digest against the stored hash.
func (d *DeltaTargets) Apply() error {
	for _, op := range d.ops {
		if op.withdraw {
			if err := os.Remove(op.path); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		if err := writeAtomically(op.path, op.body); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomically(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0644)
}

// getRetryable performs a single GET and returns an error classified as
// retryable if it looks transient (network error or 5xx status).
func (c *Client) getRetryable(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &permanentError{err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s: server error %d", url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &permanentError{fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}

// permanentError marks a getRetryable failure that is not transient.
type permanentError struct{ error }

// getVerified fetches url and verifies its SHA-256 digest matches want
// before returning the body, per spec.md §4's requirement that object
// content is verified against the hash the publisher listed.
func (c *Client) getVerified(ctx context.Context, url string, want [32]byte) ([]byte, error) {
	body, err := c.getRetryable(ctx, url)
	if err != nil {
		return nil, err
	}
	got := sha256.Sum256(body)
	if got != want {
		return nil, fmt.Errorf("%s: content hash mismatch: got %s want %s", url, hex.EncodeToString(got[:]), hex.EncodeToString(want[:]))
	}
	return body, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// decodePublishBody decodes a <publish> element's base64 body. RFC 8182
// permits whitespace inside the base64 text, so it is stripped first.
func decodePublishBody(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, text)
	return base64.StdEncoding.DecodeString(clean)
}
