// Package engine is a minimal stand-in for a rendering engine. It drives one
// page load through a session's hooks the way a real engine would, but only
// parses the document instead of rendering it.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/policy"
	"github.com/tanq16/kestrel/internal/registry"
	"github.com/tanq16/kestrel/internal/session"
)

const DefaultMaxDocument = 10 << 20

// Opener issues a GET and returns the live response.
type Opener interface {
	Open(ctx context.Context, rawURL string) (*http.Response, error)
}

// Result describes what a load ended in.
type Result struct {
	URL    string
	Action session.Action
	Title  string
	Record *registry.Record
}

type HTTPEngine struct {
	client      Opener
	navigation  session.NavigationHandler
	responses   session.ResponseHandler
	downloads   session.DownloadHandler
	MaxDocument int64
}

func New(client Opener, s *session.Session) *HTTPEngine {
	return &HTTPEngine{
		client:      client,
		navigation:  s.Navigation(),
		responses:   s.Responses(),
		downloads:   s.Downloads(),
		MaxDocument: DefaultMaxDocument,
	}
}

// Load navigates to rawURL. Rendered documents are handed to the session's
// navigation-finished hook; downloads are streamed to the path the download
// hook picks.
func (e *HTTPEngine) Load(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	e.navigation.WillNavigate(u)

	resp, err := e.client.Open(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	final := resp.Request.URL
	meta := policy.NewResponseMetadata(final.String(), resp.Header)
	action := e.responses.DecideResponse(meta)
	res := &Result{URL: final.String(), Action: action}
	log.Debug().Str("op", "engine/load").Msgf("%s -> %s", final, action)

	switch action {
	case session.ActionBlock:
		return res, nil
	case session.ActionAllowDownload:
		rec, err := e.download(meta, resp.Body)
		if err != nil {
			return res, err
		}
		res.Record = rec
		return res, nil
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, e.MaxDocument))
	if err != nil {
		return res, fmt.Errorf("error reading document: %w", err)
	}
	res.Title = documentTitle(doc)
	e.navigation.DidFinishNavigation(final, bytes.NewReader(doc))
	return res, nil
}

func (e *HTTPEngine) download(meta policy.ResponseMetadata, body io.Reader) (*registry.Record, error) {
	d := e.downloads.Begin(meta)
	path, err := d.Destination("")
	if err != nil {
		return nil, err
	}
	return d.Finish(writeFile(path, body))
}

func writeFile(path string, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func documentTitle(doc []byte) string {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(d.Find("title").First().Text())
}
