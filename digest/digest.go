// Package digest implements the deterministic, readdir-order-independent
// SHA-256 fingerprint of a directory tree described in spec.md §4.1. The
// digest fingerprints structure and file sizes, not contents: content
// integrity is already guaranteed upstream by the RRDP hashes the fetcher
// verifies when it writes object bodies, so this digest exists only to
// detect local corruption or out-of-band mutation between persisted state
// and read time.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
)

// Size is the number of bytes in a Hash.
const Size = sha256.Size

// Hash is a SHA-256 tree digest.
type Hash [Size]byte

// String returns the lowercase hex representation of h, the on-disk
// encoding used by ServerState (spec.md §4.2).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal reports whether h equals other, using a constant-time comparison
// as required by spec.md §4.1's check_digest and §4.4's check_broken.
func (h Hash) Equal(other Hash) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

// Parse decodes a lowercase hex SHA-256 digest.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != Size {
		return h, errBadLength(len(b))
	}
	copy(h[:], b)
	return h, nil
}

type badLengthError struct {
	n int
}

func (e *badLengthError) Error() string {
	return "digest: wrong byte length for SHA-256 hash"
}

func errBadLength(n int) error {
	return &badLengthError{n: n}
}

// entry is one (name, kind) pair collected while walking a directory.
type entry struct {
	name string
	// exactly one of dirPath/fileLen is meaningful, selected by isDir.
	isDir   bool
	dirPath string
	fileLen uint64
}

// Tree computes the digest of the directory tree rooted at root, per the
// algorithm in spec.md §4.1:
//
//  1. Seed a LIFO stack with root.
//  2. Pop a directory, collect (name, kind) pairs for its directory and
//     regular-file entries (everything else — symlinks, devices, ... — is
//     ignored), sort by raw byte order of the name.
//  3. Feed each entry's name into the hash; for files, additionally feed
//     the file's length as a fixed-endian uint64; for directories, push
//     the directory's path onto the stack.
//
// The file-length encoding is fixed to little-endian, per spec.md §9's
// instruction to nail down a byte order the original left host-dependent.
func Tree(root string) (Hash, error) {
	h := sha256.New()
	stack := []string{root}

	for len(stack) > 0 {
		n := len(stack) - 1
		dir := stack[n]
		stack = stack[:n]

		entries, err := readEntries(dir)
		if err != nil {
			return Hash{}, err
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].name < entries[j].name
		})
		for _, e := range entries {
			h.Write([]byte(e.name))
			if e.isDir {
				stack = append(stack, e.dirPath)
			} else {
				var lenBuf [8]byte
				binary.LittleEndian.PutUint64(lenBuf[:], e.fileLen)
				h.Write(lenBuf[:])
			}
		}
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

func readEntries(dir string) ([]entry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dirEntries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// The entry vanished between readdir and stat, or is
			// otherwise unreadable; treat it as absent. A foreign
			// mutation during digesting is exactly the scenario
			// check_broken exists to catch on the next pass.
			continue
		}
		switch {
		case info.IsDir():
			entries = append(entries, entry{
				name:    de.Name(),
				isDir:   true,
				dirPath: filepath.Join(dir, de.Name()),
			})
		case info.Mode().IsRegular():
			entries = append(entries, entry{
				name:    de.Name(),
				fileLen: uint64(info.Size()),
			})
		}
		// Symlinks, devices, sockets, etc. are silently ignored, per
		// spec.md §4.1.
	}
	return entries, nil
}
