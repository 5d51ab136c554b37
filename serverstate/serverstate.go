// Package serverstate persists the metadata record that ties a server's
// on-disk tree back to the publisher's notion of its state: the format is
// normative (spec.md §4.2), a plain four-line "key: value" text file.
package serverstate

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"rrdpcache.io/digest"
	"rrdpcache.io/errors"
	"rrdpcache.io/uri"
)

// State is the persisted metadata for one server.
type State struct {
	NotifyURI uri.Https
	Session   uuid.UUID
	Serial    uint64
	Hash      digest.Hash
}

// field keys, in the exact order they must appear on disk.
var fieldKeys = [...]string{"notify-uri:", "session:", "serial:", "hash:"}

// Load reads and parses a ServerState file. Trailing whitespace, extra or
// missing lines, wrong keys, or a wrong number of values per line all fail
// the load with a StateIO error, per spec.md §4.2.
func Load(path string) (State, error) {
	s, err := load(path)
	if err != nil {
		return State{}, errors.E("serverstate.Load", errors.StateIO, err)
	}
	return s, nil
}

func load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return State{}, err
	}
	if len(lines) != len(fieldKeys) {
		return State{}, errors.Str("invalid data: wrong number of lines")
	}

	var s State
	notifyURI, err := field(lines[0], fieldKeys[0])
	if err != nil {
		return State{}, err
	}
	s.NotifyURI, err = uri.ParseHttps(notifyURI)
	if err != nil {
		return State{}, err
	}

	sessionStr, err := field(lines[1], fieldKeys[1])
	if err != nil {
		return State{}, err
	}
	s.Session, err = uuid.Parse(sessionStr)
	if err != nil {
		return State{}, err
	}

	serialStr, err := field(lines[2], fieldKeys[2])
	if err != nil {
		return State{}, err
	}
	s.Serial, err = strconv.ParseUint(serialStr, 10, 64)
	if err != nil {
		return State{}, err
	}

	hashStr, err := field(lines[3], fieldKeys[3])
	if err != nil {
		return State{}, err
	}
	s.Hash, err = digest.Parse(hashStr)
	if err != nil {
		return State{}, err
	}

	return s, nil
}

// field splits a "key: value" line, requiring the key to match exactly and
// exactly one value token to follow.
func field(line, key string) (string, error) {
	if strings.TrimRightFunc(line, unicode.IsSpace) != line {
		return "", errors.Str("invalid data: trailing whitespace")
	}
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return "", errors.Str("invalid data: wrong field count in line")
	}
	if parts[0] != key {
		return "", errors.Str("invalid data: unexpected key " + parts[0])
	}
	return parts[1], nil
}

// Save truncates and rewrites path with s's four-line representation.
func Save(path string, s State) error {
	if err := save(path, s); err != nil {
		return errors.E("serverstate.Save", errors.StateIO, err)
	}
	return nil
}

func save(path string, s State) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(
		"notify-uri: " + s.NotifyURI.String() + "\n" +
			"session: " + s.Session.String() + "\n" +
			"serial: " + strconv.FormatUint(s.Serial, 10) + "\n" +
			"hash: " + s.Hash.String() + "\n",
	)
	return err
}
