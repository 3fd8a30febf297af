// Package urlutil provides URL resolution helpers for playlist-relative
// references.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves childURI against baseURL, merging baseURL's query
// parameters into the result unless the child already defines them. HLS
// CDNs commonly carry auth tokens as query parameters on the playlist URL
// that segment, key, and map URIs must inherit.
//
// Unparseable inputs return childURI unchanged so a malformed playlist
// line degrades to a failed fetch rather than a dropped segment.
func Resolve(baseURL, childURI string) string {
	if childURI == "" {
		return childURI
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return childURI
	}
	ref, err := url.Parse(childURI)
	if err != nil {
		return childURI
	}
	resolved := base.ResolveReference(ref)

	if base.RawQuery != "" {
		baseQuery := base.Query()
		childQuery := resolved.Query()
		changed := false
		for k, vs := range baseQuery {
			if _, exists := childQuery[k]; !exists {
				childQuery[k] = vs
				changed = true
			}
		}
		if changed {
			resolved.RawQuery = childQuery.Encode()
		}
	}
	return resolved.String()
}

// NormalizeBaseURL normalizes a base URL for consistent path joining:
// a missing scheme defaults to http:// and any trailing slash is removed.
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	baseURL = strings.TrimSpace(baseURL)
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimSuffix(baseURL, "/")
}
