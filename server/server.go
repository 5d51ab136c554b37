// Package server implements the per-publisher update state machine
// (spec.md §4.3): gating a single update per process lifetime across
// concurrent callers, choosing between a delta or snapshot update,
// promoting a fetched tree atomically, and serving reads once updated.
package server

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	multierror "github.com/hashicorp/go-multierror"

	"rrdpcache.io/errors"
	"rrdpcache.io/fetch"
	"rrdpcache.io/log"
	"rrdpcache.io/metrics"
	"rrdpcache.io/rrdp"
	"rrdpcache.io/serverdir"
	"rrdpcache.io/serverstate"
	"rrdpcache.io/uniquedir"
	"rrdpcache.io/uri"
)

// Server is the local cache of one RRDP publication point.
//
// Because values of this type are shared by reference across an unknown
// number of worker goroutines (spec.md §5), every method takes a pointer
// receiver. Apart from SetMetrics, which replaces the recorder without
// synchronization, methods mutate only the atomic flags and the state
// guarded by mutex.
type Server struct {
	notifyURI uri.Https
	dir       serverdir.Dir

	// updated is set, monotonically false->true, once an update attempt
	// has completed for this process's lifetime.
	updated atomic.Bool
	// broken is set, monotonically false->true, if the local cache is
	// known to be inconsistent.
	broken atomic.Bool

	// mu serializes update attempts. Acquire it, re-check updated, and
	// only then perform the attempt (double-checked locking, matching
	// upspin's storeCache pattern of pairing an atomic fast path with a
	// mutex-guarded slow path).
	mu sync.Mutex

	rec metrics.Recorder
}

func newServer(notifyURI uri.Https, dir serverdir.Dir, broken bool) *Server {
	s := &Server{notifyURI: notifyURI, dir: dir, rec: metrics.Noop}
	s.updated.Store(broken)
	s.broken.Store(broken)
	return s
}

// SetMetrics wires a Recorder into the server; callers that don't need
// metrics may leave the default no-op Recorder in place.
func (s *Server) SetMetrics(rec metrics.Recorder) {
	s.rec = rec
}

// Existing adopts a pre-existing server directory. The server starts
// un-updated and not broken.
func Existing(notifyURI uri.Https, dir string) *Server {
	return newServer(notifyURI, serverdir.New(dir), false)
}

// Create allocates a fresh directory for notifyURI under cacheRoot. This
// never fails outright: if allocation fails, the returned Server is
// constructed already updated and broken, so callers simply treat it as
// unusable for the rest of the run.
func Create(notifyURI uri.Https, cacheRoot string) *Server {
	dir, err := serverdir.Create(cacheRoot, uniquedir.Create)
	if err != nil {
		log.Info.Printf("RRDP %s: failed to allocate server directory: %s", notifyURI, err)
		return newServer(notifyURI, serverdir.Dir{}, true)
	}
	return newServer(notifyURI, dir, false)
}

// NotifyURI returns the server's notification URI.
func (s *Server) NotifyURI() uri.Https {
	return s.notifyURI
}

// ServerDir returns the server's local directory.
func (s *Server) ServerDir() string {
	return s.dir.Base()
}

// Update ensures the server is up to date, running at most one update
// attempt per process lifetime (spec.md §4.3, §5). Concurrent callers
// block on the update mutex until the elected caller finishes, then
// return through the fast path.
func (s *Server) Update(ctx context.Context, client fetch.Client) {
	if s.updated.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated.Load() {
		return
	}

	s.rec.UpdateStarted()
	if err := s.tryUpdate(ctx, client); err != nil {
		if s.checkBroken() {
			s.rec.Broken()
			_ = os.RemoveAll(s.dir.Base())
		}
	}
	s.updated.Store(true)
}

// tryUpdate fetches the notification file and attempts a delta update,
// falling back to a snapshot update on any delta-path failure.
func (s *Server) tryUpdate(ctx context.Context, client fetch.Client) error {
	log.Info.Printf("RRDP %s: updating server", s.notifyURI)
	notify, err := client.NotificationFile(ctx, s.notifyURI)
	if err != nil {
		log.Info.Printf("RRDP %s: fetching notification file failed: %s", s.notifyURI, err)
		return errors.E("tryUpdate", s.notifyURI.String(), errors.Transport, err)
	}

	if err := s.deltaUpdate(ctx, notify, client); err == nil {
		log.Info.Printf("RRDP %s: delta update succeeded.", s.notifyURI)
		s.rec.DeltaSucceeded()
		return nil
	}

	s.rec.SnapshotFallback()
	return s.snapshotUpdate(ctx, notify, client)
}

// deltaUpdate implements spec.md §4.3's delta_update. Any error here is
// recovered by the caller falling through to a snapshot update.
func (s *Server) deltaUpdate(ctx context.Context, notify *rrdp.NotificationFile, client fetch.Client) error {
	state, err := serverstate.Load(s.dir.StatePath())
	if err != nil {
		return err
	}

	decision := calcDeltas(notify, state)
	switch decision.kind {
	case decisionNeedSnapshot:
		return errNeedSnapshot
	case decisionNoOp:
		return s.dir.CheckDigest(state.Hash)
	}

	if err := s.dir.CheckDigest(state.Hash); err != nil {
		return err
	}

	targets, err := s.collectDeltaTargets(ctx, state, notify, decision.deltas, client)
	if err != nil {
		return err
	}

	// Re-verify after staging: defends against concurrent mutation of
	// the live tree by some other actor while the deltas were
	// downloading (spec.md §4.3 step 5).
	if err := s.dir.CheckDigest(state.Hash); err != nil {
		return err
	}

	if err := targets.Apply(); err != nil {
		return errors.E("deltaUpdate", errors.FsIO, err)
	}

	newHash, err := s.dir.Digest()
	if err != nil {
		return err
	}
	state.Serial = notify.Serial
	state.Hash = newHash
	return serverstate.Save(s.dir.StatePath(), state)
}

// collectDeltaTargets stages every chosen delta into a DeltaTargets batch,
// in the order the notification listed them.
func (s *Server) collectDeltaTargets(ctx context.Context, state serverstate.State, notify *rrdp.NotificationFile, deltas []rrdp.DeltaInfo, client fetch.Client) (fetch.DeltaTargets, error) {
	if err := s.dir.CheckDigest(state.Hash); err != nil {
		return nil, err
	}
	targets, err := client.NewDeltaTargets(client.TmpDir())
	if err != nil {
		return nil, errors.E("collectDeltaTargets", errors.Transport, err)
	}
	for _, delta := range deltas {
		if err := client.Delta(ctx, s.notifyURI, notify, delta, targets, s.dir.URIPath); err != nil {
			return nil, errors.E("collectDeltaTargets", errors.Transport, err)
		}
	}
	return targets, nil
}

// snapshotUpdate implements spec.md §4.3's snapshot_update: fetch into a
// fresh temp directory, then atomically promote it over the live one.
func (s *Server) snapshotUpdate(ctx context.Context, notify *rrdp.NotificationFile, client fetch.Client) error {
	log.Info.Printf("RRDP %s: updating from snapshot.", s.notifyURI)
	tmpDir, err := serverdir.Create(client.TmpDir(), uniquedir.Create)
	if err != nil {
		return err
	}
	if err := s.snapshotIntoTmp(ctx, notify, client, tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir.Base())
		return err
	}
	return s.moveFromTmp(tmpDir)
}

func (s *Server) snapshotIntoTmp(ctx context.Context, notify *rrdp.NotificationFile, client fetch.Client, tmpDir serverdir.Dir) error {
	if err := client.Snapshot(ctx, notify, tmpDir.URIPath); err != nil {
		return errors.E("snapshotIntoTmp", errors.Transport, err)
	}
	hash, err := tmpDir.Digest()
	if err != nil {
		return err
	}
	state := serverstate.State{
		NotifyURI: s.notifyURI,
		Session:   notify.SessionID,
		Serial:    notify.Serial,
		Hash:      hash,
	}
	return serverstate.Save(tmpDir.StatePath(), state)
}

// moveFromTmp performs the non-crash-atomic promotion described in
// spec.md §4.3: remove the live state file, rename the temp state file in,
// remove the live data tree, rename the temp data tree in, then remove the
// now-empty temp base directory. There is a window after the state file is
// renamed in and before the data tree is renamed in where the two are
// inconsistent; check_broken is what recovers from that across process
// restarts (spec.md §9).
func (s *Server) moveFromTmp(tmpDir serverdir.Dir) error {
	_ = os.Remove(s.dir.StatePath())
	var result *multierror.Error
	if err := os.Rename(tmpDir.StatePath(), s.dir.StatePath()); err != nil {
		log.Info.Printf(
			"Failed to move RRDP state file '%s' from temporary location '%s': %s.",
			s.dir.StatePath(), tmpDir.StatePath(), err,
		)
		result = multierror.Append(result, err)
	}

	_ = os.RemoveAll(s.dir.DataPath())
	if err := os.Rename(tmpDir.DataPath(), s.dir.DataPath()); err != nil {
		log.Info.Printf(
			"Failed to move RRDP data directory '%s' from temporary location '%s': %s.",
			s.dir.DataPath(), tmpDir.DataPath(), err,
		)
		result = multierror.Append(result, err)
	}

	_ = os.RemoveAll(tmpDir.Base())

	if result != nil {
		return errors.E("moveFromTmp", errors.FsIO, result)
	}
	return nil
}

// checkBroken is invoked only after a failed update attempt. It reports
// whether the server's local cache is now known to be inconsistent, and
// if so, marks it broken (spec.md §4.4).
func (s *Server) checkBroken() bool {
	state, err := serverstate.Load(s.dir.StatePath())
	if err != nil {
		log.Info.Printf("Cannot read state file, marking RRDP server '%s' as unusable", s.notifyURI)
		s.broken.Store(true)
		return true
	}

	hash, err := s.dir.Digest()
	if err != nil {
		log.Info.Printf("Cannot digest RRDP server directory for '%s'. Marking as unusable.", s.notifyURI)
		s.broken.Store(true)
		return true
	}

	if !hash.Equal(state.Hash) {
		log.Info.Printf("Hash for RRDP server directory for '%s' doesn't match. Marking as unusable.", s.notifyURI)
		s.broken.Store(true)
		return true
	}
	return false
}

// LoadFile reads an object from the local tree. It returns (nil, false,
// nil) if the object is missing, and fails with an Unusable error if the
// server is broken. Must not be called before Update.
func (s *Server) LoadFile(u uri.Rsync) ([]byte, bool, error) {
	if s.broken.Load() {
		return nil, false, errors.E("LoadFile", s.notifyURI.String(), errors.Unusable)
	}

	path := s.dir.URIPath(u)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info.Printf("%s not found in its RRDP repository.", u)
		} else {
			log.Warn.Printf("Failed to open file '%s': %s.", path, err)
		}
		return nil, false, nil
	}
	return data, true, nil
}

// RemoveUnused removes the server's local cache if it was never updated,
// or was updated but ended up broken. Returns whether it removed the
// cache.
func (s *Server) RemoveUnused() bool {
	if s.updated.Load() && !s.broken.Load() {
		return false
	}
	_ = os.RemoveAll(s.dir.Base())
	return true
}
