package qris

import (
	"fmt"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// headerWhitelist is the full set of headers a replay call may carry. The
// replayed request must look like the browser-originated one, no more and
// no less: extra captured headers (cookies, sec-ch hints, request IDs) are
// stripped before replay.
var headerWhitelist = []string{
	HeaderSecretID,
	HeaderSecretKey,
	HeaderSecretToken,
	HeaderSessionItem,
	"accept",
	"accept-language",
	"referer",
	"user-agent",
}

// secretHeaders never appear in logs with their real values.
var secretHeaders = map[string]bool{
	HeaderSecretID:    true,
	HeaderSecretKey:   true,
	HeaderSecretToken: true,
	HeaderSessionItem: true,
}

// HeaderSet is a whitelisted, lowercase-keyed view of the authentication
// headers observed on a real portal call. One set may serve many replay
// calls until the portal rejects it.
type HeaderSet map[string]string

// FilterHeaders reduces raw captured headers to the whitelist. Header name
// matching is case-insensitive; values pass through untouched.
func FilterHeaders(raw map[string]string) HeaderSet {
	lowered := make(map[string]string, len(raw))
	for name, value := range raw {
		lowered[strings.ToLower(name)] = value
	}

	hs := make(HeaderSet, len(headerWhitelist))
	for _, name := range headerWhitelist {
		if value, ok := lowered[name]; ok && value != "" {
			hs[name] = value
		}
	}
	return hs
}

// BaseHeaders returns the browser-shaped defaults used when a header set is
// assembled from configuration instead of a live capture.
func BaseHeaders(userAgent string) HeaderSet {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return HeaderSet{
		"accept":          DefaultAccept,
		"accept-language": DefaultAcceptLanguage,
		"referer":         DefaultReferer,
		"user-agent":      userAgent,
	}
}

// Set stores a header under its lowercase name. Names outside the whitelist
// are dropped, keeping the set replay-safe by construction.
func (hs HeaderSet) Set(name, value string) {
	name = strings.ToLower(name)
	for _, allowed := range headerWhitelist {
		if name == allowed {
			hs[name] = value
			return
		}
	}
}

func (hs HeaderSet) Get(name string) string {
	return hs[strings.ToLower(name)]
}

// Validate reports whether the set is usable for replay at all. The two
// long-lived secrets are mandatory; the rotating token is not, its absence
// is recoverable via recapture or refresh.
func (hs HeaderSet) Validate() error {
	var missing []string
	if hs[HeaderSecretID] == "" {
		missing = append(missing, HeaderSecretID)
	}
	if hs[HeaderSecretKey] == "" {
		missing = append(missing, HeaderSecretKey)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidHeaders, strings.Join(missing, ", "))
	}
	return nil
}

// HasToken reports whether the rotating token is present.
func (hs HeaderSet) HasToken() bool {
	return hs[HeaderSecretToken] != ""
}

func (hs HeaderSet) Clone() HeaderSet {
	clone := make(HeaderSet, len(hs))
	for name, value := range hs {
		clone[name] = value
	}
	return clone
}

// Whitelisted returns the headers to attach to a replay request.
func (hs HeaderSet) Whitelisted() map[string]string {
	filtered := FilterHeaders(hs)
	out := make(map[string]string, len(filtered))
	for name, value := range filtered {
		out[name] = value
	}
	return out
}

// Redacted returns a loggable copy with secret values masked.
func (hs HeaderSet) Redacted() map[string]string {
	out := make(map[string]string, len(hs))
	for name, value := range hs {
		if secretHeaders[name] {
			out[name] = redacted
		} else {
			out[name] = value
		}
	}
	return out
}

// Names returns the present header names in stable order, for logging.
func (hs HeaderSet) Names() []string {
	names := make([]string, 0, len(hs))
	for name := range hs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
