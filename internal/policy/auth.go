package policy

import (
	"net/url"
	"strings"
)

// DefaultAuthMarkers are substrings of hosts or paths that identify
// identity-provider pages.
var DefaultAuthMarkers = []string{
	"accounts",
	"oauth",
	"signin",
	"sign-in",
	"login",
	"openid",
}

// IsAuthURL reports whether u looks like an identity-provider page.
func IsAuthURL(u *url.URL) bool {
	return matchesAuth(u, DefaultAuthMarkers)
}

func matchesAuth(u *url.URL, markers []string) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.EscapedPath())
	for _, m := range markers {
		if strings.Contains(host, m) || strings.Contains(path, m) {
			return true
		}
	}
	return false
}
