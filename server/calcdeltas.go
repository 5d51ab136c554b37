package server

import (
	"math"

	"rrdpcache.io/errors"
	"rrdpcache.io/rrdp"
	"rrdpcache.io/serverstate"
)

// decisionKind is the outcome of calcDeltas.
type decisionKind int

const (
	// decisionNeedSnapshot means a delta update cannot proceed; the
	// caller must fall back to a full snapshot.
	decisionNeedSnapshot decisionKind = iota
	// decisionNoOp means the notification's serial already matches the
	// persisted state; only the tree digest needs re-verifying.
	decisionNoOp
	// decisionApply means deltas should be applied, in order.
	decisionApply
)

// deltaDecision is calcDeltas' pure result.
type deltaDecision struct {
	kind   decisionKind
	deltas []rrdp.DeltaInfo // meaningful only when kind == decisionApply
}

// calcDeltas decides whether a delta update can proceed, is unnecessary,
// or must fall back to a snapshot. It is a pure function of its two
// inputs (spec.md §8's "Delta-selection purity" property) and performs no
// I/O.
func calcDeltas(notify *rrdp.NotificationFile, state serverstate.State) deltaDecision {
	if notify.SessionID != state.Session {
		return deltaDecision{kind: decisionNeedSnapshot}
	}

	if notify.Serial == state.Serial {
		return deltaDecision{kind: decisionNoOp}
	}

	if len(notify.Deltas) == 0 || notify.Deltas[len(notify.Deltas)-1].Serial != notify.Serial {
		return deltaDecision{kind: decisionNeedSnapshot}
	}

	if state.Serial == math.MaxUint64 {
		return deltaDecision{kind: decisionNeedSnapshot}
	}
	wantFirst := state.Serial + 1

	deltas := notify.Deltas
	for {
		if len(deltas) == 0 {
			// Ran out of deltas without finding wantFirst: a gap.
			return deltaDecision{kind: decisionNeedSnapshot}
		}
		first := deltas[0].Serial
		switch {
		case first > wantFirst:
			// The next delta we have is newer than what we need: a
			// gap we can't fill.
			return deltaDecision{kind: decisionNeedSnapshot}
		case first == wantFirst:
			return deltaDecision{kind: decisionApply, deltas: deltas}
		default:
			deltas = deltas[1:]
		}
	}
}

var errNeedSnapshot = errors.E("calcDeltas", errors.DeltaInapplicable)
