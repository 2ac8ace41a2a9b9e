package engine

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/favicon"
	"github.com/tanq16/kestrel/internal/fetch"
	"github.com/tanq16/kestrel/internal/registry"
	"github.com/tanq16/kestrel/internal/session"
)

func site(t *testing.T) *httptest.Server {
	t.Helper()
	var icon bytes.Buffer
	require.NoError(t, png.Encode(&icon, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title> Home </title><link rel="icon" href="/i.png"></head><body>hi</body></html>`)
	})
	mux.HandleFunc("/i.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(icon.Bytes())
	})
	mux.HandleFunc("/paper.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.7")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setup(t *testing.T, onIcon func(session.FaviconEvent)) (*HTTPEngine, *session.Session, *download.Orchestrator) {
	t.Helper()
	client := fetch.NewClient(fetch.ClientConfig{})
	orch := download.New(download.Config{
		Dir:        t.TempDir(),
		Downloader: client,
		Registry:   registry.New(registry.Options{}),
	})
	s := session.New(context.Background(), session.Config{
		Downloads: orch,
		Favicons:  favicon.NewResolver(favicon.Options{Fetcher: client}),
		OnFavicon: onIcon,
	})
	t.Cleanup(s.Close)
	return New(client, s), s, orch
}

func TestLoadRendersDocument(t *testing.T) {
	srv := site(t)
	icons := make(chan session.FaviconEvent, 1)
	e, s, _ := setup(t, func(ev session.FaviconEvent) { icons <- ev })

	res, err := e.Load(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, session.ActionAllowRender, res.Action)
	assert.Equal(t, "Home", res.Title)

	select {
	case ev := <-icons:
		assert.False(t, ev.Fallback)
	case <-time.After(5 * time.Second):
		t.Fatal("favicon not delivered")
	}
	assert.Equal(t, "127.0.0.1", s.Host())
}

func TestLoadDivertsDownload(t *testing.T) {
	srv := site(t)
	e, _, orch := setup(t, nil)

	res, err := e.Load(context.Background(), srv.URL+"/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, session.ActionAllowDownload, res.Action)
	require.NotNil(t, res.Record)
	assert.Equal(t, "paper.pdf", res.Record.Name)
	data, err := os.ReadFile(res.Record.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, 1, orch.Registry().Len())
}

func TestLoadNetworkError(t *testing.T) {
	srv := site(t)
	e, _, orch := setup(t, nil)
	srv.Close()
	_, err := e.Load(context.Background(), srv.URL+"/")
	assert.Error(t, err)
	assert.Zero(t, orch.Registry().Len())
}
