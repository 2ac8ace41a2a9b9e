// Package session composes the per-tab behaviour of the browser core: policy
// decisions for navigations and responses, download diversion and favicon
// refresh on origin change.
package session

import (
	"bytes"
	"context"
	"image"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/favicon"
	"github.com/tanq16/kestrel/internal/logging"
	"github.com/tanq16/kestrel/internal/policy"
)

// FaviconEvent carries the icon for the session's current origin. Fallback
// is set when no icon could be fetched and Icon is a synthesized glyph.
type FaviconEvent struct {
	Host     string
	Icon     image.Image
	Fallback bool
}

type Config struct {
	Policy    *policy.Engine
	Downloads *download.Orchestrator
	// Favicons may be nil, which disables icon lookups.
	Favicons  *favicon.Resolver
	OnFavicon func(FaviconEvent)
	// ForceDark enables forced-dark styling on pages that allow it.
	ForceDark bool
}

// Session is one tab. Its engine-facing surface is split over the handlers
// returned by Navigation, Responses, Downloads and Messages.
type Session struct {
	id     string
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger

	mu         sync.Mutex
	suppressed bool
	host       string
}

func New(ctx context.Context, cfg Config) *Session {
	if cfg.Policy == nil {
		cfg.Policy = policy.NewEngine(policy.Options{})
	}
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		log:    logging.For("session").With().Str("session", id).Logger(),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Navigation() NavigationHandler {
	return navigationAdapter{s}
}

func (s *Session) Responses() ResponseHandler {
	return responseAdapter{s}
}

func (s *Session) Downloads() DownloadHandler {
	return downloadAdapter{s}
}

func (s *Session) Messages() MessageHandler {
	return messageAdapter{s}
}

// StylingSuppressed reports whether the last navigation or response verdict
// turned forced styling off.
func (s *Session) StylingSuppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

// DarkStyling reports whether forced-dark styling should apply to the
// current page.
func (s *Session) DarkStyling() bool {
	return s.cfg.ForceDark && !s.StylingSuppressed()
}

// Host is the origin host of the last finished navigation.
func (s *Session) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Wait blocks until outstanding favicon lookups have delivered their events.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding favicon lookups and waits for them to return.
// Downloads started from the session belong to the orchestrator and keep
// running.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Session) setSuppressed(v bool) {
	s.mu.Lock()
	s.suppressed = v
	s.mu.Unlock()
}

// didFinishNavigation starts a favicon lookup when the origin host changed.
// The document is read before returning.
func (s *Session) didFinishNavigation(u *url.URL, document io.Reader) {
	if u == nil {
		return
	}
	host := strings.ToLower(u.Hostname())
	s.mu.Lock()
	changed := host != s.host
	s.host = host
	s.mu.Unlock()
	if !changed || host == "" || s.cfg.Favicons == nil {
		return
	}

	var hints []string
	if document != nil {
		// buffer so the lookup goroutine never touches the caller's reader
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, document); err == nil {
			hints = favicon.DiscoverIcons(u, &buf)
		}
	}
	s.log.Debug().Str("op", "session/favicon").Msgf("origin changed to %s", host)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resolveFavicon(u, host, hints)
	}()
}

func (s *Session) resolveFavicon(u *url.URL, host string, hints []string) {
	img, ok := s.cfg.Favicons.Resolve(s.ctx, u, hints...)
	ev := FaviconEvent{Host: host, Icon: img}
	if !ok {
		ev.Icon = favicon.Glyph(host, s.cfg.Favicons.Size())
		ev.Fallback = true
	}
	if s.Host() != host {
		s.log.Debug().Str("op", "session/favicon").Msgf("dropping stale icon for %s", host)
		return
	}
	if s.cfg.OnFavicon != nil {
		s.cfg.OnFavicon(ev)
	}
}
