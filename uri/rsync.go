// Package uri provides the two URI value types the RRDP cache needs: the
// https notification URI and the rsync URI used to address repository
// objects. Both are parsed once and kept as clean, comparable values, in
// the same spirit as upspin.io/path's Parsed type.
package uri

import "strings"

const rsyncScheme = "rsync://"

// Module identifies an rsync module: an authority (host, optionally with a
// port) and a module name, e.g. the "rsync://AUTH/MOD" part of
// "rsync://AUTH/MOD/REST".
type Module struct {
	Authority string
	Name      string
}

// Rsync is a parsed rsync URI of the form rsync://AUTH/MOD/REST.
type Rsync struct {
	raw    string
	module Module
	path   string // REST, without a leading slash
}

// ParseRsync parses s as an rsync URI. REST may be empty (a bare module
// root), but authority and module name must both be non-empty.
func ParseRsync(s string) (Rsync, error) {
	if !strings.HasPrefix(s, rsyncScheme) {
		return Rsync{}, errBadRsyncURI(s)
	}
	rest := s[len(rsyncScheme):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Rsync{}, errBadRsyncURI(s)
	}
	authority := rest[:slash]
	rest = rest[slash+1:]
	slash = strings.IndexByte(rest, '/')
	var module, path string
	if slash < 0 {
		module = rest
		path = ""
	} else {
		module = rest[:slash]
		path = rest[slash+1:]
	}
	if authority == "" || module == "" {
		return Rsync{}, errBadRsyncURI(s)
	}
	return Rsync{
		raw:    s,
		module: Module{Authority: authority, Name: module},
		path:   path,
	}, nil
}

// Module returns the rsync module this URI belongs to.
func (u Rsync) Module() Module {
	return u.module
}

// Path returns the part of the URI after the module, without a leading
// slash. It may be empty.
func (u Rsync) Path() string {
	return u.path
}

// String returns the original URI text.
func (u Rsync) String() string {
	return u.raw
}

type badRsyncURIError struct {
	uri string
}

func (e *badRsyncURIError) Error() string {
	return "not a valid rsync URI: " + e.uri
}

func errBadRsyncURI(s string) error {
	return &badRsyncURIError{uri: s}
}
