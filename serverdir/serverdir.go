// Package serverdir maps a publication point's repository-relative URIs
// onto local filesystem paths, and computes the deterministic directory
// digest that is the consistency checkpoint between persisted ServerState
// and the actual on-disk tree (spec.md §4.1).
package serverdir

import (
	"path/filepath"

	"rrdpcache.io/digest"
	"rrdpcache.io/errors"
	"rrdpcache.io/log"
	"rrdpcache.io/uri"
)

const stateFileName = "state.txt"

// Dir bundles a server's base directory with its derived state-file path.
// Unlike the original implementation, Create does not report a failed
// allocation as a Dir with empty paths (spec.md §9 flags that sentinel as
// an anti-pattern); it returns an error instead, and it is up to the
// caller to decide what an allocation failure means for it (server.Create
// pairs an empty Dir with a server marked broken).
type Dir struct {
	base  string
	state string
}

// New wraps an existing, already-created directory path.
func New(base string) Dir {
	return Dir{
		base:  base,
		state: filepath.Join(base, stateFileName),
	}
}

// Allocator creates a freshly named, empty subdirectory under parent and
// returns its path. It is the "unique-directory allocator" external
// collaborator of spec.md §6; uniquedir.Create is the production
// implementation.
type Allocator func(parent string) (string, error)

// Create allocates a fresh, empty unique subdirectory under cacheRoot using
// alloc, and returns a Dir rooted there.
func Create(cacheRoot string, alloc Allocator) (Dir, error) {
	path, err := alloc(cacheRoot)
	if err != nil {
		return Dir{}, errors.E("serverdir.Create", errors.FsIO, err)
	}
	return New(path), nil
}

// Base returns the directory's root path.
func (d Dir) Base() string {
	return d.base
}

// StatePath returns the path of the state file within the directory.
func (d Dir) StatePath() string {
	return d.state
}

// DataPath returns the path of the "data" subtree within the directory.
func (d Dir) DataPath() string {
	return filepath.Join(d.base, "data")
}

// ModulePath returns the local directory for an rsync module.
func (d Dir) ModulePath(m uri.Module) string {
	return filepath.Join(d.DataPath(), m.Authority, m.Name)
}

// URIPath returns the local path an rsync URI maps to.
func (d Dir) URIPath(u uri.Rsync) string {
	if u.Path() == "" {
		return d.ModulePath(u.Module())
	}
	return filepath.Join(d.ModulePath(u.Module()), u.Path())
}

// Digest computes the deterministic SHA-256 fingerprint of the data
// subtree (spec.md §4.1). If the data subtree does not exist at all, this
// fails rather than silently treating it as empty: per spec.md §9's open
// question, a vanished directory is indistinguishable from a never-created
// one, and either way the caller's broken-detection path is what's
// supposed to notice and recover.
func (d Dir) Digest() (digest.Hash, error) {
	h, err := digest.Tree(d.DataPath())
	if err != nil {
		return digest.Hash{}, logAndWrapDigestErr(d, err)
	}
	return h, nil
}

func logAndWrapDigestErr(d Dir, err error) error {
	log.Info.Printf("Failed to calculate digest for '%s': %s", d.DataPath(), err)
	return errors.E("serverdir.Digest", errors.FsIO, err)
}

// CheckDigest recomputes the tree digest and compares it against expected
// in constant time, failing with a DigestMismatch error if they differ.
func (d Dir) CheckDigest(expected digest.Hash) error {
	got, err := d.Digest()
	if err != nil {
		return err
	}
	if !got.Equal(expected) {
		log.Info.Printf("Mismatch of digest for '%s'. Content must have changed.", d.DataPath())
		return errors.E("serverdir.CheckDigest", errors.DigestMismatch)
	}
	return nil
}
