package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/favicon"
	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/policy"
	"github.com/tanq16/kestrel/internal/registry"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

type countingFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	calls  int
}

func (f *countingFetcher) Fetch(_ context.Context, rawURL string, _ time.Duration) (*fetch.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if b, ok := f.bodies[rawURL]; ok {
		return &fetch.Payload{URL: rawURL, StatusCode: 200, Body: b}, nil
	}
	return nil, &fetch.StatusError{URL: rawURL, Code: 404}
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func iconPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResponseActions(t *testing.T) {
	s := New(context.Background(), Config{})
	defer s.Close()
	h := s.Responses()

	pdf := policy.NewResponseMetadata("https://example.com/a.pdf", http.Header{"Content-Type": {"application/pdf"}})
	assert.Equal(t, ActionAllowDownload, h.DecideResponse(pdf))

	page := policy.NewResponseMetadata("https://example.com/", http.Header{"Content-Type": {"text/html"}})
	assert.Equal(t, ActionAllowRender, h.DecideResponse(page))

	assert.Equal(t, ActionBlock, h.DecideResponse(policy.ResponseMetadata{}))
	assert.Equal(t, ActionBlock, h.DecideResponse(policy.NewResponseMetadata("javascript:alert(1)", nil)))
	assert.Equal(t, "block", ActionBlock.String())
}

func TestStylingSuppressedOnAuthPages(t *testing.T) {
	s := New(context.Background(), Config{ForceDark: true})
	defer s.Close()

	v := s.Navigation().WillNavigate(mustURL(t, "https://accounts.example.com/signin"))
	assert.True(t, v.SuppressStyling)
	assert.True(t, s.StylingSuppressed())
	assert.False(t, s.DarkStyling())

	s.Navigation().WillNavigate(mustURL(t, "https://news.example.com/"))
	assert.False(t, s.StylingSuppressed())
	assert.True(t, s.DarkStyling())

	// the auth guard also wins on responses, even for downloadable types
	meta := policy.NewResponseMetadata("https://example.com/oauth/cert.pdf", http.Header{"Content-Type": {"application/pdf"}})
	assert.Equal(t, ActionAllowRender, s.Responses().DecideResponse(meta))
	assert.True(t, s.StylingSuppressed())
}

func TestFaviconOnOriginChange(t *testing.T) {
	f := &countingFetcher{bodies: map[string][]byte{
		"https://example.com/static/icon.png": iconPNG(t),
	}}
	events := make(chan FaviconEvent, 4)
	s := New(context.Background(), Config{
		Favicons:  favicon.NewResolver(favicon.Options{Fetcher: f}),
		OnFavicon: func(ev FaviconEvent) { events <- ev },
	})
	defer s.Close()

	doc := `<html><head><link rel="icon" href="/static/icon.png"></head></html>`
	s.Navigation().DidFinishNavigation(mustURL(t, "https://example.com/one"), strings.NewReader(doc))

	select {
	case ev := <-events:
		assert.Equal(t, "example.com", ev.Host)
		assert.False(t, ev.Fallback)
		assert.Equal(t, 32, ev.Icon.Bounds().Dx())
	case <-time.After(2 * time.Second):
		t.Fatal("no favicon event")
	}
	assert.Equal(t, 1, f.Calls())

	// same origin: no new lookup
	s.Navigation().DidFinishNavigation(mustURL(t, "https://example.com/two"), nil)
	s.Close()
	assert.Equal(t, 1, f.Calls())
	assert.Empty(t, events)
}

func TestFaviconFallbackGlyph(t *testing.T) {
	f := &countingFetcher{}
	events := make(chan FaviconEvent, 1)
	s := New(context.Background(), Config{
		Favicons:  favicon.NewResolver(favicon.Options{Fetcher: f, Size: 16}),
		OnFavicon: func(ev FaviconEvent) { events <- ev },
	})
	s.Navigation().DidFinishNavigation(mustURL(t, "https://bare.test/"), nil)
	s.Wait()
	assert.Equal(t, 3, f.Calls())
	s.Close()

	require.Len(t, events, 1)
	ev := <-events
	assert.True(t, ev.Fallback)
	assert.Equal(t, 16, ev.Icon.Bounds().Dx())
	assert.Equal(t, "bare.test", s.Host())
}

func TestMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "body")
	}))
	defer srv.Close()

	dir := t.TempDir()
	orch := download.New(download.Config{
		Dir:        dir,
		Downloader: fetch.NewClient(fetch.ClientConfig{}),
		Registry:   registry.New(registry.Options{}),
	})
	s := New(context.Background(), Config{Downloads: orch})

	msg, err := ParseMessage("download " + srv.URL + "/notes.txt")
	require.NoError(t, err)
	require.NoError(t, s.Messages().HandleMessage(msg))
	s.Close()
	orch.Wait()

	list := orch.Registry().List()
	require.Len(t, list, 1)
	assert.Equal(t, "notes.txt", list[0].Name)

	assert.ErrorIs(t, s.Messages().HandleMessage(Message{Name: "print", URL: srv.URL}), ErrUnknownMessage)
	assert.Error(t, s.Messages().HandleMessage(Message{Name: MessageSaveAs, URL: "not a url"}))
	_, err = ParseMessage("download")
	assert.Error(t, err)
}

func TestDownloadHandlerDiverts(t *testing.T) {
	dir := t.TempDir()
	orch := download.New(download.Config{Dir: dir, Registry: registry.New(registry.Options{})})
	s := New(context.Background(), Config{Downloads: orch})
	defer s.Close()

	meta := policy.NewResponseMetadata("https://example.com/file.bin", http.Header{"Content-Disposition": {"attachment"}})
	require.Equal(t, ActionAllowDownload, s.Responses().DecideResponse(meta))
	d := s.Downloads().Begin(meta)
	path, err := d.Destination("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file.bin"), path)
	rec, err := d.Finish(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Size)
	assert.Equal(t, 1, orch.Registry().Len())
}

func TestLogsCarrySessionID(t *testing.T) {
	var buf bytes.Buffer
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	s := New(context.Background(), Config{})
	defer s.Close()
	s.Responses().DecideResponse(policy.ResponseMetadata{})

	out := buf.String()
	assert.Contains(t, out, `"component":"session"`)
	assert.Contains(t, out, `"session":"`+s.ID()+`"`)
	assert.Contains(t, out, "blocking response")
}
