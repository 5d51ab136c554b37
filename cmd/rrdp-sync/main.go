// Command rrdp-sync loads a publication point configuration and brings
// every server's local cache up to date, running one Update per publisher
// across a bounded worker pool (spec.md §5's "unknown number of worker
// threads", made concrete here).
package main

import (
	"context"
	"net/http"
	"os"
	"sync"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rrdpcache.io/config"
	"rrdpcache.io/fetch"
	"rrdpcache.io/fetch/rrdphttp"
	"rrdpcache.io/log"
	"rrdpcache.io/metrics"
	"rrdpcache.io/server"
	"rrdpcache.io/uri"
)

func main() {
	var (
		configPath  = flag.StringP("config", "c", "rrdp-sync.yaml", "path to the publication point configuration file")
		workers     = flag.IntP("workers", "w", 4, "number of concurrent update workers")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on, empty to disable")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error.Printf("loading config: %s", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	client := rrdphttp.New(cfg.TmpRoot)
	servers, err := buildServers(cfg, rec)
	if err != nil {
		log.Error.Printf("allocating servers: %s", err)
		os.Exit(1)
	}

	runUpdates(servers, client, *workers)

	for _, s := range servers {
		if s.RemoveUnused() {
			log.Info.Printf("RRDP %s: removed unused cache directory.", s.NotifyURI())
		}
	}
}

// buildServers allocates or adopts one server.Server per configured
// publication point (spec.md §5's "single instance per notification URI"
// precondition, enforced here by config.Load rejecting duplicates).
func buildServers(cfg config.Config, rec metrics.Recorder) ([]*server.Server, error) {
	servers := make([]*server.Server, 0, len(cfg.PublicationPoints))
	for _, pp := range cfg.PublicationPoints {
		notifyURI, err := uri.ParseHttps(pp.NotifyURI)
		if err != nil {
			return nil, err
		}

		var s *server.Server
		if pp.Dir != "" {
			s = server.Existing(notifyURI, pp.Dir)
		} else {
			s = server.Create(notifyURI, cfg.CacheRoot)
		}
		s.SetMetrics(rec)
		servers = append(servers, s)
	}
	return servers, nil
}

// runUpdates fans Update calls for every server out across a bounded pool
// of goroutines, matching Update's contract that it is safe to call
// concurrently and only ever performs the work once.
func runUpdates(servers []*server.Server, client fetch.Client, workers int) {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan *server.Server)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				s.Update(context.Background(), client)
			}
		}()
	}
	for _, s := range servers {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error.Printf("metrics server: %s", err)
	}
}
