package cmd

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/config"
	"github.com/tanq16/kestrel/internal/destination"
	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/favicon"
	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/metrics"
	"github.com/tanq16/kestrel/internal/policy"
	"github.com/tanq16/kestrel/internal/registry"
	"github.com/tanq16/kestrel/internal/session"
)

// app holds the collaborators shared by every tab of one invocation.
type app struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	client    *fetch.Client
	policy    *policy.Engine
	favicons  *favicon.Resolver
	registry  *registry.Registry
	downloads *download.Orchestrator
}

func newApp(ctx context.Context, c *config.Config, picker download.SavePicker) *app {
	m := metrics.New()
	client := fetch.NewClient(fetch.ClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KATimeout,
		ProxyURL:      c.HTTP.ProxyURL,
		ProxyUsername: c.HTTP.ProxyUsername,
		ProxyPassword: c.HTTP.ProxyPassword,
		UserAgent:     c.HTTP.UserAgent,
		Headers:       c.HTTP.Headers,
		RateLimit:     c.HTTP.RateLimit,
		MaxBody:       c.Favicon.MaxBytes,
	})
	reg := registry.New(registry.Options{
		Dir:            c.Downloads.Dir,
		BootstrapLimit: c.Downloads.BootstrapLimit,
		Metrics:        m,
	})
	a := &app{
		cfg:      c,
		metrics:  m,
		client:   client,
		registry: reg,
		policy: policy.NewEngine(policy.Options{
			AuthMarkers:        c.Policy.AuthMarkers,
			ExtraDownloadTypes: c.Policy.ExtraDownloadTypes,
			Metrics:            m,
		}),
		favicons: favicon.NewResolver(favicon.Options{
			Fetcher:    client,
			Size:       c.Favicon.Size,
			Timeout:    c.Favicon.Timeout,
			Aggregator: c.Favicon.Aggregator,
			Metrics:    m,
		}),
		downloads: download.New(download.Config{
			Dir:        c.Downloads.Dir,
			TempDir:    c.Downloads.TempDir,
			Resolver:   destination.New(c.Downloads.MaxCollisions),
			Registry:   reg,
			Downloader: fetch.NewDefaultMux(client, fetch.NewS3Source(c.HTTP.S3Profile)),
			Picker:     picker,
			Metrics:    m,
		}),
	}
	if c.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, c.Metrics.Addr); err != nil {
				log.Error().Str("op", "cmd/app").Err(err).Msg("metrics server stopped")
			}
		}()
	}
	return a
}

func (a *app) newSession(ctx context.Context, onFavicon func(session.FaviconEvent)) *session.Session {
	return session.New(ctx, session.Config{
		Policy:    a.policy,
		Downloads: a.downloads,
		Favicons:  a.favicons,
		OnFavicon: onFavicon,
		ForceDark: a.cfg.Policy.ForceDark,
	})
}
