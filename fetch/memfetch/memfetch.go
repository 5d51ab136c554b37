// Package memfetch is an in-memory, non-persistent fetch.Client used by
// the core's tests. It plays the role the teacher's store/inprocess and
// store/teststore packages play for upspin.io/store: a fake that
// implements the real contract entirely in memory, with no network or
// disk I/O of its own beyond writing into the paths the core gives it.
package memfetch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"rrdpcache.io/fetch"
	"rrdpcache.io/rrdp"
	"rrdpcache.io/uri"
)

// Object is a published object body, addressed by its rsync URI.
type Object struct {
	URI  string
	Body []byte
}

// Client is an in-memory fetch.Client. The zero value is not usable; use
// New. Client is safe for concurrent use: concurrent Update callers in the
// core's tests all dial the same Client.
type Client struct {
	tmpDir string

	mu           sync.Mutex
	notification *rrdp.NotificationFile
	snapshot     []Object
	deltas       map[uint64][]Operation // keyed by the delta's serial

	notificationFetches atomic.Int64
}

// Operation is one publish or withdraw entry of a delta document.
type Operation struct {
	Withdraw bool
	URI      string
	Body     []byte // ignored when Withdraw is true
}

// New returns a Client rooted at tmpDir for scratch space.
func New(tmpDir string) *Client {
	return &Client{tmpDir: tmpDir, deltas: make(map[uint64][]Operation)}
}

// SetNotification installs the notification document Client will serve.
func (c *Client) SetNotification(n *rrdp.NotificationFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notification = n
}

// SetSnapshot installs the objects the snapshot will publish.
func (c *Client) SetSnapshot(objs []Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = objs
}

// SetDelta installs the publish/withdraw operations for the delta
// advancing to serial.
func (c *Client) SetDelta(serial uint64, ops []Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas[serial] = ops
}

// NotificationFetches returns how many times NotificationFile was called,
// for asserting the single-update-exclusion property (spec.md §8).
func (c *Client) NotificationFetches() int64 {
	return c.notificationFetches.Load()
}

func (c *Client) NotificationFile(_ context.Context, _ uri.Https) (*rrdp.NotificationFile, error) {
	c.notificationFetches.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notification == nil {
		return nil, errNoNotification
	}
	return c.notification, nil
}

func (c *Client) Snapshot(_ context.Context, _ *rrdp.NotificationFile, pathFn fetch.PathFunc) error {
	c.mu.Lock()
	objs := c.snapshot
	c.mu.Unlock()
	for _, o := range objs {
		u, err := uri.ParseRsync(o.URI)
		if err != nil {
			return err
		}
		if err := writeObject(pathFn(u), o.Body); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Delta(_ context.Context, _ uri.Https, _ *rrdp.NotificationFile, delta rrdp.DeltaInfo, targets fetch.DeltaTargets, pathFn fetch.PathFunc) error {
	c.mu.Lock()
	ops := c.deltas[delta.Serial]
	c.mu.Unlock()

	batch, ok := targets.(*DeltaTargets)
	if !ok {
		return errWrongTargetsType
	}
	for _, op := range ops {
		u, err := uri.ParseRsync(op.URI)
		if err != nil {
			return err
		}
		path := pathFn(u)
		if op.Withdraw {
			batch.withdraw(path)
		} else {
			batch.publish(path, op.Body)
		}
	}
	return nil
}

func (c *Client) TmpDir() string {
	return c.tmpDir
}

func (c *Client) NewDeltaTargets(tmpDir string) (fetch.DeltaTargets, error) {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}
	return &DeltaTargets{}, nil
}

// DeltaTargets is memfetch's staging batch: every publish/withdraw is
// queued in memory and only touches disk when Apply runs, matching the
// "promoted atomically by apply()" contract of spec.md §3.
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

// Apply performs every staged publish and withdrawal in the order they
// were staged. Good enough for a test double: a real implementation
// additionally has to worry about reverting partial application on
// failure (spec.md §3).
func (d *DeltaTargets) Apply() error {
	for _, op := range d.ops {
		if op.withdraw {
			if err := os.Remove(op.path); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		if err := writeObject(op.path, op.body); err != nil {
			return err
		}
	}
	return nil
}

func writeObject(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0644)
}

type fetchError struct{ msg string }

func (e *fetchError) Error() string { return e.msg }

var (
	errNoNotification   = &fetchError{"memfetch: no notification installed"}
	errWrongTargetsType = &fetchError{"memfetch: targets not created by this client"}
)
