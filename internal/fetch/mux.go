package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Mux routes downloads to a Downloader by URL scheme.
type Mux struct {
	routes map[string]Downloader
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Downloader)}
}

// Handle registers d for scheme, replacing any earlier registration.
func (m *Mux) Handle(scheme string, d Downloader) *Mux {
	m.routes[strings.ToLower(scheme)] = d
	return m
}

func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.routes))
	for s := range m.routes {
		out = append(out, s)
	}
	return out
}

func (m *Mux) Download(ctx context.Context, rawURL, tempDir string) (*Transfer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	d, ok := m.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return d.Download(ctx, rawURL, tempDir)
}

// NewDefaultMux wires http, https and s3.
func NewDefaultMux(client *Client, s3src *S3Source) *Mux {
	m := NewMux().Handle("http", client).Handle("https", client)
	if s3src != nil {
		m.Handle("s3", s3src)
	}
	return m
}
