package faults

import (
	"errors"
	"strings"
)

// Marker substrings checked in priority order by Categorize. Network wins
// over stream, stream over auth, auth over upstream.
var (
	networkMarkers  = []string{"connection refused", "no such host", "network", "timeout", "timed out", "dial tcp", "i/o deadline"}
	streamMarkers   = []string{"stream:", "stream interrupted", "broken pipe", "reset by peer", "closed", "unexpected eof"}
	authMarkers     = []string{"unauthorized", "forbidden", "token", "expired", "signature"}
	upstreamMarkers = []string{"upstream", "bad gateway", "service unavailable", "internal server error"}
)

// Categorize converts an arbitrary error into a categorized one. Errors
// that already carry a category pass through unchanged.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized
	}

	text := strings.ToLower(err.Error())
	switch {
	case matchesAny(text, networkMarkers):
		return Wrap(CategoryNetwork, CodeNetworkError, "network failure while reaching the backend", err)
	case matchesAny(text, streamMarkers):
		return Wrap(CategoryStream, CodeStreamError, "response stream interrupted", err)
	case matchesAny(text, authMarkers):
		return Wrap(CategoryAuth, CodeAuthError, "authentication failed", err)
	case matchesAny(text, upstreamMarkers):
		return Wrap(CategoryUpstream, CodeUpstreamError, "backend service returned an error", err)
	default:
		return Wrap(CategoryRuntime, CodeRuntimeError, "unexpected gateway failure", err)
	}
}

func matchesAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
