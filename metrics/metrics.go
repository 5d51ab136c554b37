// Package metrics exposes the counters the update engine reports through,
// grounded on vjache-cie's use of github.com/prometheus/client_golang.
// server.Server depends only on the Recorder interface, so its own tests
// can supply a no-op and its production callers can supply a Prometheus
// registry without the core package importing client_golang directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the set of events server.Server reports during an update.
type Recorder interface {
	// UpdateStarted is called once per Update attempt that actually runs
	// (i.e. past the updated fast path).
	UpdateStarted()
	// DeltaSucceeded is called when a delta update applied cleanly.
	DeltaSucceeded()
	// SnapshotFallback is called whenever the delta path was abandoned
	// in favor of a full snapshot, whether or not the snapshot itself
	// succeeds.
	SnapshotFallback()
	// Broken is called when a server transitions to the broken state.
	Broken()
}

// Noop discards every event. It is the default Recorder for a Server that
// never had metrics wired in, and the Recorder tests use.
var Noop Recorder = noop{}

type noop struct{}

func (noop) UpdateStarted()    {}
func (noop) DeltaSucceeded()   {}
func (noop) SnapshotFallback() {}
func (noop) Broken()           {}

// Prometheus is the production Recorder, registering four counters against
// the supplied registry (never the global default registerer, so tests and
// multiple cmd/ invocations in-process don't collide).
type Prometheus struct {
	updatesStarted    prometheus.Counter
	deltaSuccesses    prometheus.Counter
	snapshotFallbacks prometheus.Counter
	brokenServers     prometheus.Counter
}

// New registers rrdpcache's counters against reg and returns a Recorder
// backed by them.
func New(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		updatesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rrdpcache",
			Name:      "updates_started_total",
			Help:      "Number of RRDP server update attempts that ran past the single-update gate.",
		}),
		deltaSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rrdpcache",
			Name:      "delta_updates_succeeded_total",
			Help:      "Number of updates that applied cleanly via the delta path.",
		}),
		snapshotFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rrdpcache",
			Name:      "snapshot_fallbacks_total",
			Help:      "Number of updates that fell back to a full snapshot.",
		}),
		brokenServers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rrdpcache",
			Name:      "broken_servers_total",
			Help:      "Number of servers that transitioned to the broken state.",
		}),
	}
	reg.MustRegister(p.updatesStarted, p.deltaSuccesses, p.snapshotFallbacks, p.brokenServers)
	return p
}

func (p *Prometheus) UpdateStarted()    { p.updatesStarted.Inc() }
func (p *Prometheus) DeltaSucceeded()   { p.deltaSuccesses.Inc() }
func (p *Prometheus) SnapshotFallback() { p.snapshotFallbacks.Inc() }
func (p *Prometheus) Broken()           { p.brokenServers.Inc() }
