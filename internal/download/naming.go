package download

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tanq16/kestrel/internal/destination"
	"github.com/tanq16/kestrel/internal/policy"
)

const fallbackName = "download"

// SuggestName derives a file name for a download from its headers and URL:
// the Content-Disposition filename, then the last URL path segment, then
// "download". A name without an extension gets one from the Content-Type.
func SuggestName(rawURL string, header http.Header) string {
	name := dispositionName(header.Get("Content-Disposition"))
	if name == "" {
		name = urlName(rawURL)
	}
	if name == "" {
		name = fallbackName
	}
	return WithExtension(name, policy.ParseMIME(header.Get("Content-Type")))
}

func dispositionName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	// ParseMediaType folds RFC 2231 filename* into filename when it can
	// decode it; anything else is handled here
	if fn := params["filename"]; fn != "" {
		return destination.SanitizeName(fn)
	}
	if fn := params["filename*"]; fn != "" {
		if i := strings.Index(fn, "''"); i >= 0 {
			fn = fn[i+2:]
		}
		if unescaped, err := url.PathUnescape(fn); err == nil {
			fn = unescaped
		}
		return destination.SanitizeName(fn)
	}
	return ""
}

func urlName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return destination.SanitizeName(base)
}

// WithExtension appends the canonical extension for mimeType when name has
// none. Unknown and generic binary types leave the name alone.
func WithExtension(name, mimeType string) string {
	if _, ext := destination.SplitName(name); ext != "" {
		return name
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		return name
	}
	mt := mimetype.Lookup(mimeType)
	if mt == nil || mt.Extension() == "" {
		return name
	}
	return name + mt.Extension()
}

// sniffedExtension fills a missing extension from the payload itself.
func sniffedExtension(name, tempPath string) string {
	if _, ext := destination.SplitName(name); ext != "" {
		return name
	}
	mt, err := mimetype.DetectFile(tempPath)
	if err != nil {
		return name
	}
	return WithExtension(name, policy.ParseMIME(mt.String()))
}
