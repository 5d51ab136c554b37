// Package rrdp holds the data-model types the update engine exchanges with
// its HttpClient collaborator: the notification file's consumed fields and
// the delta/snapshot references it lists. Parsing the RRDP XML documents
// themselves is the fetcher's job, not the core's (see fetch.Client); this
// package only names the shape both sides agree on.
package rrdp

import (
	"github.com/google/uuid"

	"rrdpcache.io/uri"
)

// UriAndHash pairs the HTTPS location of a snapshot or delta document with
// the SHA-256 hash its content must match once fetched, as published in a
// notification file. This is distinct from the rsync URIs a snapshot or
// delta document's own publish/withdraw entries name: those identify
// repository objects, not documents to fetch.
type UriAndHash struct {
	URI  uri.Https
	Hash [32]byte
}

// DeltaInfo is one entry of a notification file's delta list: the serial
// the delta advances to, and where to fetch it.
type DeltaInfo struct {
	Serial uint64
	UriAndHash
}

// NotificationFile is the set of fields the core consumes from a
// publisher's notification.xml: the session, serial, ordered delta list,
// and the snapshot reference.
type NotificationFile struct {
	SessionID uuid.UUID
	Serial    uint64
	Deltas    []DeltaInfo // ordered as published
	Snapshot  UriAndHash
}
