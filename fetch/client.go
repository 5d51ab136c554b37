// Package fetch defines the external collaborator contract the update
// engine depends on (spec.md §6): retrieving the notification file,
// downloading a snapshot or deltas, and staging delta operations for
// atomic application. The core never implements HTTP or parses RRDP XML
// itself; fetch/rrdphttp is one concrete, network-backed implementation,
// and fetch/memfetch is an in-memory test double.
package fetch

import (
	"context"

	"rrdpcache.io/rrdp"
	"rrdpcache.io/uri"
)

// PathFunc maps a repository-relative rsync URI to the local path an
// object's body should be written to. The core supplies this (backed by
// serverdir.Dir.URIPath); the fetcher never computes paths itself.
type PathFunc func(u uri.Rsync) string

// DeltaTargets is an ordered batch of pending file replacements/removals
// staged by Client.Delta calls and promoted atomically by Apply.
type DeltaTargets interface {
	// Apply atomically applies all staged operations. Partial
	// application on failure must be reverted, or must leave the live
	// tree unchanged.
	Apply() error
}

// Client is the HttpClient contract of spec.md §6.
type Client interface {
	// NotificationFile fetches and parses the notification document at
	// notifyURI.
	NotificationFile(ctx context.Context, notifyURI uri.Https) (*rrdp.NotificationFile, error)

	// Snapshot fetches the snapshot named by notify.Snapshot, calling
	// pathFn for each published object's destination path and writing
	// its verified body there.
	Snapshot(ctx context.Context, notify *rrdp.NotificationFile, pathFn PathFunc) error

	// Delta fetches one delta document and appends its withdraw/publish
	// operations to targets, addressing each by pathFn.
	Delta(ctx context.Context, notifyURI uri.Https, notify *rrdp.NotificationFile, delta rrdp.DeltaInfo, targets DeltaTargets, pathFn PathFunc) error

	// TmpDir returns a writable scratch root for staging snapshot and
	// delta work.
	TmpDir() string

	// NewDeltaTargets constructs an empty staging batch rooted at
	// tmpDir.
	NewDeltaTargets(tmpDir string) (DeltaTargets, error)
}
