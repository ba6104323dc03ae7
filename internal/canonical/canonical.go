// Package canonical normalizes URLs into a canonical form and produces
// a digest suitable for deduplication (C1).
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/northcloud/crawlctl/internal/errs"
)

// defaultTrackingParams are stripped unless present in Options.PreservedParams.
// Any key prefixed "utm_" is also stripped (isTrackingParam), matching
// spec rule 3's open-ended "utm_*" wildcard instead of an enumerated
// list of known utm_ keys.
var defaultTrackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_hsenc":  {},
	"_hsmi":   {},
}

// defaultPreservedParams are kept even though they resemble tracking
// params, matching the spec's semantic-default allowlist.
var defaultPreservedParams = map[string]struct{}{
	"page": {}, "p": {}, "category": {}, "id": {}, "q": {}, "sort": {},
	"order": {}, "filter": {}, "limit": {}, "offset": {}, "lang": {},
	"locale": {}, "tab": {}, "section": {},
}

// Options configures NormalizeURL. The zero value applies spec defaults:
// lowercase host, drop fragment, strip tracking params outside the
// default preserved set.
type Options struct {
	// PreservedParams adds caller-supplied query keys to the allowlist
	// that survives tracking-parameter stripping.
	PreservedParams map[string]struct{}
	// KeepFragment retains the URL fragment instead of dropping it.
	KeepFragment bool
	// NoLowercaseHost disables host lowercasing (spec: "default on").
	NoLowercaseHost bool
}

// NormalizeURL applies the C1 canonicalization rules in order and
// returns the canonical URL string.
func NormalizeURL(rawURL string, opts Options) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errs.New(errs.KindValidation, "EMPTY_URL", "url is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "URL_PARSE", "failed to parse url", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errs.New(errs.KindValidation, "URL_MISSING_PARTS", "url is missing scheme or host")
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if !opts.NoLowercaseHost {
		parsed.Host = lowercaseHost(parsed.Host)
	}

	if !opts.KeepFragment {
		parsed.Fragment = ""
	}

	parsed.RawQuery = buildCleanQuery(parsed.Query(), opts.PreservedParams)

	return parsed.String(), nil
}

// Digest returns NormalizeURL's output along with its SHA-256 hex
// digest, the pair callers persist for dedup comparisons.
func Digest(rawURL string, opts Options) (canonicalURL string, digest string, err error) {
	canonicalURL, err = NormalizeURL(rawURL, opts)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(canonicalURL))
	return canonicalURL, hex.EncodeToString(sum[:]), nil
}

// Equivalent reports whether two URLs canonicalize to the same digest.
func Equivalent(a, b string, opts Options) (bool, error) {
	_, da, err := Digest(a, opts)
	if err != nil {
		return false, err
	}
	_, db, err := Digest(b, opts)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func lowercaseHost(host string) string {
	// Preserve a port suffix verbatim; only the hostname portion is
	// lowercased per the spec's "preserve port and userinfo verbatim".
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		return strings.ToLower(host[:i]) + host[i:]
	}
	return strings.ToLower(host)
}

func buildCleanQuery(values url.Values, extra map[string]struct{}) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key, extra) {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		vals := values[key]
		// Spec rule 4: when a key repeats, keep the first value only.
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(vals[0]))
	}
	return b.String()
}

func isTrackingParam(key string, extra map[string]struct{}) bool {
	if _, preserved := defaultPreservedParams[key]; preserved {
		return false
	}
	if _, preserved := extra[key]; preserved {
		return false
	}
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, tracking := defaultTrackingParams[key]
	return tracking
}

var errOpaqueScheme = errors.New("canonical: opaque scheme cannot be normalized")

// ValidateNormalizable rejects schemes with no authority component
// (e.g. "javascript:", "mailto:") before a caller attempts NormalizeURL,
// matching the spec's "javascript: and other opaque schemes fail
// normalization and are skipped by callers".
func ValidateNormalizable(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", errOpaqueScheme, err)
	}
	if parsed.Opaque != "" || parsed.Host == "" {
		return errOpaqueScheme
	}
	return nil
}
