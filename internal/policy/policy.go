package policy

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tanq16/kestrel/internal/metrics"
)

type Decision int

const (
	Render Decision = iota
	Download
)

func (d Decision) String() string {
	if d == Download {
		return "download"
	}
	return "render"
}

type Reason string

const (
	ReasonDefault Reason = "default"
	ReasonHeader  Reason = "header"
	ReasonMIME    Reason = "mime"
	ReasonAuth    Reason = "auth"
)

// ResponseMetadata is the part of a navigation response the policy looks at.
type ResponseMetadata struct {
	URL      *url.URL
	MIMEType string
	Header   http.Header
}

// NewResponseMetadata parses rawURL and derives the MIME type from the
// Content-Type header. A bad URL leaves URL nil; a missing or malformed
// Content-Type leaves MIMEType empty.
func NewResponseMetadata(rawURL string, header http.Header) ResponseMetadata {
	m := ResponseMetadata{Header: header}
	if header == nil {
		m.Header = http.Header{}
	}
	if u, err := url.Parse(rawURL); err == nil && rawURL != "" {
		m.URL = u
	}
	m.MIMEType = ParseMIME(m.Header.Get("Content-Type"))
	return m
}

func ParseMIME(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

var downloadableTypes = toSet([]string{
	// archives
	"application/zip",
	"application/x-zip-compressed",
	"application/gzip",
	"application/x-gzip",
	"application/x-tar",
	"application/x-bzip2",
	"application/x-xz",
	"application/x-7z-compressed",
	"application/vnd.rar",
	"application/x-rar-compressed",
	"application/x-apple-diskimage",
	"application/vnd.debian.binary-package",
	"application/x-msdownload",
	"application/java-archive",
	// office documents
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.oasis.opendocument.spreadsheet",
	"application/vnd.oasis.opendocument.presentation",
	"application/rtf",
	"text/csv",
	// images
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
	"image/heic",
	// video
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"video/x-matroska",
	"video/webm",
	"video/mpeg",
	// audio
	"audio/mpeg",
	"audio/mp4",
	"audio/wav",
	"audio/x-wav",
	"audio/flac",
	"audio/ogg",
	"audio/aac",
	// generic
	"application/octet-stream",
	"application/pdf",
})

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// IsDownloadable reports whether mimeType is on the built-in allow-list.
func IsDownloadable(mimeType string) bool {
	_, ok := downloadableTypes[strings.ToLower(mimeType)]
	return ok
}

// Classify decides between rendering a response and diverting it into a
// download. Header intent wins over MIME type; missing data renders.
func Classify(m ResponseMetadata) Decision {
	d, _ := classify(m, nil)
	return d
}

func classify(m ResponseMetadata, extra map[string]struct{}) (Decision, Reason) {
	if wantsAttachment(m.Header.Get("Content-Disposition")) {
		return Download, ReasonHeader
	}
	if m.MIMEType != "" {
		if IsDownloadable(m.MIMEType) {
			return Download, ReasonMIME
		}
		if _, ok := extra[strings.ToLower(m.MIMEType)]; ok {
			return Download, ReasonMIME
		}
	}
	return Render, ReasonDefault
}

func wantsAttachment(disposition string) bool {
	v := strings.ToLower(disposition)
	return strings.Contains(v, "attachment") || strings.Contains(v, "filename")
}

// Verdict is the outcome of evaluating a navigation request or response.
type Verdict struct {
	Decision        Decision
	SuppressStyling bool
	Reason          Reason
}

// Engine combines the auth-page guard with Classify. The zero value is not
// usable; build one with NewEngine.
type Engine struct {
	markers []string
	extra   map[string]struct{}
	metrics *metrics.Metrics
}

type Options struct {
	// AuthMarkers replaces DefaultAuthMarkers when non-empty.
	AuthMarkers []string
	// ExtraDownloadTypes extends the built-in MIME allow-list.
	ExtraDownloadTypes []string
	Metrics            *metrics.Metrics
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		markers: DefaultAuthMarkers,
		extra:   make(map[string]struct{}),
		metrics: opts.Metrics,
	}
	if len(opts.AuthMarkers) > 0 {
		e.markers = make([]string, 0, len(opts.AuthMarkers))
		for _, m := range opts.AuthMarkers {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				e.markers = append(e.markers, m)
			}
		}
	}
	for _, t := range opts.ExtraDownloadTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			e.extra[t] = struct{}{}
		}
	}
	return e
}

// Navigate evaluates a navigation request before any response exists.
// Requests are always allowed; auth pages additionally suppress styling.
func (e *Engine) Navigate(u *url.URL) Verdict {
	if matchesAuth(u, e.markers) {
		e.metrics.Decision(Render.String(), string(ReasonAuth))
		return Verdict{Decision: Render, SuppressStyling: true, Reason: ReasonAuth}
	}
	return Verdict{Decision: Render, Reason: ReasonDefault}
}

// Evaluate runs the auth guard, then Classify.
func (e *Engine) Evaluate(m ResponseMetadata) Verdict {
	if matchesAuth(m.URL, e.markers) {
		e.metrics.Decision(Render.String(), string(ReasonAuth))
		return Verdict{Decision: Render, SuppressStyling: true, Reason: ReasonAuth}
	}
	d, reason := classify(m, e.extra)
	e.metrics.Decision(d.String(), string(reason))
	return Verdict{Decision: d, Reason: reason}
}
