package favicon

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/metrics"
)

// fakeFetcher serves canned bodies by URL and records every request.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	calls  []string
	delay  time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, _ time.Duration) (*fetch.Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.bodies[rawURL]
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if !ok {
		return nil, &fetch.StatusError{URL: rawURL, Code: 404}
	}
	return &fetch.Payload{URL: rawURL, StatusCode: 200, Body: body}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestCandidatesOrder(t *testing.T) {
	got := Candidates(mustURL(t, "https://Example.com/some/page"), DefaultAggregator, "https://cdn.example.com/i.png")
	assert.Equal(t, []string{
		"https://cdn.example.com/i.png",
		"https://Example.com/apple-touch-icon.png",
		"https://Example.com/favicon.ico",
		"https://Example.com/favicon.png",
		"https://www.google.com/s2/favicons?domain=example.com&sz=64",
	}, got)
	assert.Nil(t, Candidates(nil, DefaultAggregator))
	assert.Len(t, Candidates(mustURL(t, "https://a.test"), ""), 3)
}

func TestDiscoverIcons(t *testing.T) {
	html := `<html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="shortcut icon" href="/img/fav.ico">
		<link rel="apple-touch-icon" sizes="180x180" href="https://static.example.com/touch.png">
		<link rel="icon" href="data:image/png;base64,AAAA">
		</head></html>`
	icons := DiscoverIcons(mustURL(t, "https://example.com/docs/page"), strings.NewReader(html))
	assert.Equal(t, []string{
		"https://example.com/img/fav.ico",
		"https://static.example.com/touch.png",
	}, icons)
}

func TestDecodeFormats(t *testing.T) {
	img, format, err := Decode(pngBytes(t, 4, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, _, err = Decode([]byte("<html>not an icon</html>"))
	assert.ErrorIs(t, err, ErrNotImage)
}

// icoWith wraps one image payload in an ICO container.
func icoWith(payload []byte, w, h, bpp int) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&buf, le, uint16(0))
	binary.Write(&buf, le, uint16(1))
	binary.Write(&buf, le, uint16(1))
	buf.Write([]byte{byte(w), byte(h), 0, 0})
	binary.Write(&buf, le, uint16(1))
	binary.Write(&buf, le, uint16(bpp))
	binary.Write(&buf, le, uint32(len(payload)))
	binary.Write(&buf, le, uint32(6+16))
	buf.Write(payload)
	return buf.Bytes()
}

func TestDecodeICOWithPNGEntry(t *testing.T) {
	data := icoWith(pngBytes(t, 16, 16, color.Black), 16, 16, 32)
	img, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "ico", format)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
}

func TestDecodeICOWithBitmapEntry(t *testing.T) {
	const w, h = 2, 2
	var dib bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&dib, le, uint32(40))
	binary.Write(&dib, le, int32(w))
	binary.Write(&dib, le, int32(h*2))
	binary.Write(&dib, le, uint16(1))
	binary.Write(&dib, le, uint16(32))
	dib.Write(make([]byte, 24)) // compression through important colours
	// bottom row first: BGRA
	dib.Write([]byte{0, 0, 255, 255, 0, 0, 255, 255}) // bottom: red
	dib.Write([]byte{255, 0, 0, 255, 255, 0, 0, 255}) // top: blue
	dib.Write(make([]byte, 4*h))                      // AND mask

	img, _, err := Decode(icoWith(dib.Bytes(), w, h, 32))
	require.NoError(t, err)
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff, 0xffff}, []uint32{r, g, b, a})
	r, _, _, _ = img.At(0, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestResolveFirstSuccessWinsAndCaches(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][]byte{
		"https://example.com/favicon.ico": []byte("garbage"),
		"https://example.com/favicon.png": pngBytes(t, 64, 64, color.White),
	}}
	m := metrics.New()
	r := NewResolver(Options{Fetcher: f, Aggregator: DefaultAggregator, Metrics: m})
	origin := mustURL(t, "https://example.com/page")

	img, ok := r.Resolve(context.Background(), origin)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, DefaultSize, DefaultSize), img.Bounds())
	assert.Equal(t, []string{
		"https://example.com/apple-touch-icon.png",
		"https://example.com/favicon.ico",
		"https://example.com/favicon.png",
	}, f.Calls())

	// second lookup is served from cache with no network access
	again, ok := r.Resolve(context.Background(), mustURL(t, "https://EXAMPLE.com/other"))
	require.True(t, ok)
	assert.Same(t, img, again)
	assert.Len(t, f.Calls(), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaviconLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaviconProbes.WithLabelValues("ok")))
}

func TestResolveAllFailReturnsNothing(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][]byte{}}
	r := NewResolver(Options{Fetcher: f, Aggregator: DefaultAggregator})

	img, ok := r.Resolve(context.Background(), mustURL(t, "https://nothing.test"))
	assert.False(t, ok)
	assert.Nil(t, img)
	assert.Len(t, f.Calls(), 4)
	assert.Zero(t, r.Cache().Len())

	// a miss is retried on the next lookup
	r.Resolve(context.Background(), mustURL(t, "https://nothing.test"))
	assert.Len(t, f.Calls(), 8)
}

func TestResolveHintsTriedFirst(t *testing.T) {
	f := &fakeFetcher{bodies: map[string][]byte{
		"https://cdn.test/icon.png": pngBytes(t, 8, 8, color.White),
	}}
	r := NewResolver(Options{Fetcher: f})
	_, ok := r.Resolve(context.Background(), mustURL(t, "https://site.test"), "https://cdn.test/icon.png")
	require.True(t, ok)
	assert.Equal(t, []string{"https://cdn.test/icon.png"}, f.Calls())
}

func TestResolveConcurrentSameHostSharesFlight(t *testing.T) {
	f := &fakeFetcher{
		bodies: map[string][]byte{"https://busy.test/apple-touch-icon.png": pngBytes(t, 8, 8, color.White)},
		delay:  50 * time.Millisecond,
	}
	r := NewResolver(Options{Fetcher: f})
	origin := mustURL(t, "https://busy.test")
	var wg sync.WaitGroup
	var hits atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Resolve(context.Background(), origin); ok {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), hits.Load())
	assert.LessOrEqual(t, len(f.Calls()), 2)
}

func TestResolveIgnoresHostlessOrigin(t *testing.T) {
	f := &fakeFetcher{}
	_, ok := NewResolver(Options{Fetcher: f}).Resolve(context.Background(), mustURL(t, "about:blank"))
	assert.False(t, ok)
	assert.Empty(t, f.Calls())
}

func TestGlyph(t *testing.T) {
	g := Glyph("www.example.com", 32)
	assert.Equal(t, image.Rect(0, 0, 32, 32), g.Bounds())
	assert.Equal(t, g.Pix, Glyph("example.com", 32).Pix)
	assert.NotEqual(t, g.Pix, Glyph("other.org", 32).Pix)
	assert.Equal(t, 16, Glyph("", 16).Bounds().Dx())
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(Glyph("a.test", 16))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

// gatedFetcher holds every request until release is closed.
type gatedFetcher struct {
	fakeFetcher
	release chan struct{}
}

func (g *gatedFetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*fetch.Payload, error) {
	<-g.release
	return g.fakeFetcher.Fetch(ctx, rawURL, timeout)
}

func TestResolveSurvivesCallerCancel(t *testing.T) {
	f := &gatedFetcher{
		fakeFetcher: fakeFetcher{bodies: map[string][]byte{
			"https://shared.test/apple-touch-icon.png": pngBytes(t, 8, 8, color.White),
		}},
		release: make(chan struct{}),
	}
	r := NewResolver(Options{Fetcher: f})
	origin := mustURL(t, "https://shared.test/page")

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan bool, 1)
	doneB := make(chan bool, 1)
	go func() {
		_, ok := r.Resolve(ctxA, origin)
		doneA <- ok
	}()
	go func() {
		_, ok := r.Resolve(context.Background(), origin)
		doneB <- ok
	}()

	cancelA()
	select {
	case ok := <-doneA:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(f.release)
	select {
	case ok := <-doneB:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("remaining caller got no result")
	}
	_, cached := r.Cache().Get("shared.test")
	assert.True(t, cached)
}
