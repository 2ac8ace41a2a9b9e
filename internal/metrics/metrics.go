package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the collectors shared by the navigation and download core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Decisions        *prometheus.CounterVec
	DownloadsTotal   *prometheus.CounterVec
	DownloadBytes    prometheus.Counter
	FaviconLookups   *prometheus.CounterVec
	FaviconProbes    *prometheus.CounterVec
	RegistryRecords  prometheus.Gauge
	DownloadDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "policy_decisions_total",
			Help:      "Navigation policy decisions by outcome and reason.",
		}, []string{"decision", "reason"}),
		DownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "downloads_total",
			Help:      "Finished downloads by entry point and result.",
		}, []string{"mode", "result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "download_bytes_total",
			Help:      "Bytes moved into the downloads directory.",
		}),
		FaviconLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "favicon_lookups_total",
			Help:      "Favicon resolutions by result (hit, fetched, none, abandoned).",
		}, []string{"result"}),
		FaviconProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "favicon_probes_total",
			Help:      "Individual favicon candidate fetches by result.",
		}, []string{"result"}),
		RegistryRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "registry_records",
			Help:      "Records currently held by the downloads registry.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "download_duration_seconds",
			Help:      "Wall time of active fetches from request to record.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(
		m.Decisions, m.DownloadsTotal, m.DownloadBytes,
		m.FaviconLookups, m.FaviconProbes, m.RegistryRecords, m.DownloadDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Decision(decision, reason string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision, reason).Inc()
}

func (m *Metrics) Download(mode, result string, bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(mode, result).Inc()
	if result == "ok" {
		m.DownloadBytes.Add(float64(bytes))
		if took > 0 {
			m.DownloadDuration.Observe(took.Seconds())
		}
	}
}

func (m *Metrics) FaviconLookup(result string) {
	if m == nil {
		return
	}
	m.FaviconLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) FaviconProbe(result string) {
	if m == nil {
		return
	}
	m.FaviconProbes.WithLabelValues(result).Inc()
}

func (m *Metrics) Records(n int) {
	if m == nil {
		return
	}
	m.RegistryRecords.Set(float64(n))
}

// Serve exposes the registry on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("op", "metrics/serve").Msgf("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
