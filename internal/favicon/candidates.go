package favicon

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const DefaultAggregator = "https://www.google.com/s2/favicons?domain=%s&sz=64"

// well-known icon locations, highest resolution first
var wellKnownPaths = []string{
	"/apple-touch-icon.png",
	"/favicon.ico",
	"/favicon.png",
}

// Candidates returns the ordered icon URLs for origin: hints first, then the
// well-known paths on the origin, then the aggregator if one is set. The
// aggregator template takes the host as its only verb.
func Candidates(origin *url.URL, aggregator string, hints ...string) []string {
	if origin == nil || origin.Hostname() == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, h := range hints {
		add(h)
	}
	scheme := strings.ToLower(origin.Scheme)
	if scheme == "http" || scheme == "https" {
		base := scheme + "://" + origin.Host
		for _, p := range wellKnownPaths {
			add(base + p)
		}
	}
	if aggregator != "" {
		add(fmt.Sprintf(aggregator, url.QueryEscape(strings.ToLower(origin.Hostname()))))
	}
	return out
}

// DiscoverIcons returns the absolute URLs of icons a document declares via
// <link rel="... icon ...">, in document order. Non-web URLs are skipped.
func DiscoverIcons(base *url.URL, html io.Reader) []string {
	doc, err := goquery.NewDocumentFromReader(html)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = u
		}
	}
	var icons []string
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !hasIconRel(rel) {
			return
		}
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		var u *url.URL
		var err error
		if base != nil {
			u, err = base.Parse(href)
		} else {
			u, err = url.Parse(href)
		}
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		icons = append(icons, u.String())
	})
	return icons
}

func hasIconRel(rel string) bool {
	for _, f := range strings.Fields(strings.ToLower(rel)) {
		if f == "icon" || f == "apple-touch-icon" || f == "apple-touch-icon-precomposed" {
			return true
		}
	}
	return false
}
