package favicon

import (
	"context"
	"image"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/metrics"
)

const (
	DefaultSize    = 32
	DefaultTimeout = 5 * time.Second
)

type Options struct {
	Fetcher fetch.Fetcher
	Cache   *Cache
	// Size is the edge of the square icons are scaled to.
	Size    int
	Timeout time.Duration
	// Aggregator is a fmt template taking the host; empty disables it.
	Aggregator string
	Metrics    *metrics.Metrics
}

// Resolver finds, decodes and caches per-host icons.
type Resolver struct {
	opts  Options
	group singleflight.Group
}

func NewResolver(opts Options) *Resolver {
	if opts.Cache == nil {
		opts.Cache = NewCache()
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Resolver{opts: opts}
}

func (r *Resolver) Cache() *Cache {
	return r.opts.Cache
}

func (r *Resolver) Size() int {
	return r.opts.Size
}

// Resolve returns the icon for origin's host. A cached icon is returned
// without any network access. Otherwise the candidates are tried strictly in
// order, each under its own timeout, and the first decodable image wins and
// is cached. When every candidate fails it returns (nil, false) and caches
// nothing. Concurrent calls for one host share a single lookup. The lookup is
// not tied to any caller's context: a caller whose ctx ends stops waiting
// with (nil, false) while the others still get the result.
func (r *Resolver) Resolve(ctx context.Context, origin *url.URL, hints ...string) (image.Image, bool) {
	if origin == nil || origin.Hostname() == "" {
		return nil, false
	}
	host := strings.ToLower(origin.Hostname())
	if img, ok := r.opts.Cache.Get(host); ok {
		r.opts.Metrics.FaviconLookup("hit")
		return img, true
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(host, func() (any, error) {
		if img, ok := r.opts.Cache.Get(host); ok {
			return img, nil
		}
		for _, candidate := range Candidates(origin, r.opts.Aggregator, hints...) {
			img, ok := r.probe(flightCtx, candidate)
			if !ok {
				continue
			}
			scaled := Scale(img, r.opts.Size)
			r.opts.Cache.Put(host, scaled)
			log.Debug().Str("op", "favicon/resolve").Msgf("icon for %s from %s", host, candidate)
			return image.Image(scaled), nil
		}
		return nil, nil
	})

	var img image.Image
	select {
	case res := <-ch:
		img, _ = res.Val.(image.Image)
	case <-ctx.Done():
		r.opts.Metrics.FaviconLookup("abandoned")
		log.Debug().Str("op", "favicon/resolve").Msgf("stopped waiting for %s", host)
		return nil, false
	}
	if img == nil {
		r.opts.Metrics.FaviconLookup("none")
		log.Debug().Str("op", "favicon/resolve").Msgf("no icon found for %s", host)
		return nil, false
	}
	r.opts.Metrics.FaviconLookup("fetched")
	return img, true
}

func (r *Resolver) probe(ctx context.Context, candidate string) (image.Image, bool) {
	if r.opts.Fetcher == nil {
		return nil, false
	}
	payload, err := r.opts.Fetcher.Fetch(ctx, candidate, r.opts.Timeout)
	if err != nil {
		r.opts.Metrics.FaviconProbe("error")
		log.Debug().Str("op", "favicon/probe").Err(err).Msgf("candidate %s failed", candidate)
		return nil, false
	}
	img, mime, err := Decode(payload.Body)
	if err != nil {
		r.opts.Metrics.FaviconProbe("undecodable")
		log.Debug().Str("op", "favicon/probe").Err(err).Msgf("candidate %s returned %s", candidate, mime)
		return nil, false
	}
	r.opts.Metrics.FaviconProbe("ok")
	return img, true
}
