// Package urlid turns raw URL strings into canonical records used as the
// dedup key and for per-host grouping.
package urlid

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/purell"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
)

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagUppercaseEscapes |
	purell.FlagDecodeUnnecessaryEscapes |
	purell.FlagEncodeNecessaryEscapes |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveEmptyPortSeparator |
	purell.FlagRemoveUnnecessaryHostDots |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveFragment

// Param is one decoded query pair.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CanonicalURL is the normalized decomposition of a URL. Host is never empty.
type CanonicalURL struct {
	Scheme            string  `json:"scheme"`
	Host              string  `json:"host"`
	RegistrableDomain string  `json:"registrable_domain"`
	Subdomain         string  `json:"subdomain,omitempty"`
	Path              string  `json:"path"`
	Query             []Param `json:"query,omitempty"`
}

// Hostname returns Host without any port.
func (c CanonicalURL) Hostname() string {
	if h, _, err := net.SplitHostPort(c.Host); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(c.Host, "[]")
}

// Origin returns scheme://host.
func (c CanonicalURL) Origin() string {
	return c.Scheme + "://" + c.Host
}

// HasParam reports whether the query carried name.
func (c CanonicalURL) HasParam(name string) bool {
	for _, p := range c.Query {
		if p.Key == name {
			return true
		}
	}
	return false
}

// Param returns the decoded value of name, or "" when absent.
func (c CanonicalURL) Param(name string) string {
	for _, p := range c.Query {
		if p.Key == name {
			return p.Value
		}
	}
	return ""
}

// Params returns a copy of the query as a map.
func (c CanonicalURL) Params() map[string]string {
	out := make(map[string]string, len(c.Query))
	for _, p := range c.Query {
		out[p.Key] = p.Value
	}
	return out
}

// String renders the fetchable URL with the query in its original order.
func (c CanonicalURL) String() string {
	return c.Origin() + c.Path + encodeQuery(c.Query)
}

// Key is the identity string: scheme, host, path, and the query sorted by
// key. Both store hashing and Equal derive from it.
func (c CanonicalURL) Key() string {
	if len(c.Query) == 0 {
		return c.Origin() + c.Path
	}
	sorted := make([]Param, len(c.Query))
	copy(sorted, c.Query)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return c.Origin() + c.Path + encodeQuery(sorted)
}

// Equal reports whether two URLs share an identity.
func (c CanonicalURL) Equal(other CanonicalURL) bool {
	return c.Key() == other.Key()
}

func encodeQuery(params []Param) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('?')
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Canonicalizer builds CanonicalURLs against a fixed suffix table.
type Canonicalizer struct {
	suffixes SuffixList
	logger   *zap.Logger
}

// New creates a Canonicalizer. A nil suffix list falls back to the compiled
// public suffix table.
func New(suffixes SuffixList, logger *zap.Logger) *Canonicalizer {
	if suffixes == nil {
		suffixes = PublicSuffixList{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Canonicalizer{suffixes: suffixes, logger: logger}
}

// Canonicalize normalizes raw. It fails with crawler.ErrMalformedURL when no
// scheme/host can be found; undecodable query pairs are dropped individually.
func (c *Canonicalizer) Canonicalize(raw string) (CanonicalURL, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	marker := strings.Index(raw, "//")
	if marker < 2 || raw[marker-1] != ':' {
		return CanonicalURL{}, fmt.Errorf("%w: missing scheme in %q", crawler.ErrMalformedURL, raw)
	}
	base, rawQuery, hasQuery := strings.Cut(raw, "?")

	normalized, err := purell.NormalizeURLString(base, normalizeFlags)
	if err != nil {
		return CanonicalURL{}, fmt.Errorf("%w: %v", crawler.ErrMalformedURL, err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return CanonicalURL{}, fmt.Errorf("%w: %v", crawler.ErrMalformedURL, err)
	}
	if u.Host == "" || u.Hostname() == "" {
		return CanonicalURL{}, fmt.Errorf("%w: empty host in %q", crawler.ErrMalformedURL, raw)
	}

	out := CanonicalURL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   strings.ToLower(u.Host),
		Path:   u.EscapedPath(),
	}
	if out.Path == "" {
		out.Path = "/"
	}
	out.RegistrableDomain, out.Subdomain = c.splitDomain(out.Hostname())
	if hasQuery {
		out.Query = c.parseQuery(raw, rawQuery)
	}
	return out, nil
}

// splitDomain takes the last two labels, or three when the two-label tail is
// itself a public suffix.
func (c *Canonicalizer) splitDomain(hostname string) (registrable, subdomain string) {
	if net.ParseIP(hostname) != nil {
		return hostname, ""
	}
	labels := strings.Split(strings.Trim(hostname, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, "."), ""
	}
	cut := len(labels) - 2
	if c.suffixes.IsPublicSuffix(strings.Join(labels[cut:], ".")) {
		cut--
	}
	return strings.Join(labels[cut:], "."), strings.Join(labels[:cut], ".")
}

func (c *Canonicalizer) parseQuery(raw, rawQuery string) []Param {
	var params []Param
	index := make(map[string]int)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		p, err := decodePair(pair)
		if err != nil {
			metrics.ObserveDecodeError()
			c.logger.Debug("dropping undecodable query parameter",
				zap.String("url", raw),
				zap.String("pair", pair),
				zap.Error(err),
			)
			continue
		}
		if p.Key == "" {
			continue
		}
		if i, ok := index[p.Key]; ok {
			params[i].Value = p.Value
			continue
		}
		index[p.Key] = len(params)
		params = append(params, p)
	}
	return params
}

// decodePair splits key=value (a bare key yields an empty value) and
// percent-decodes both halves.
func decodePair(pair string) (Param, error) {
	rawKey, rawValue, _ := strings.Cut(pair, "=")
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		return Param{}, fmt.Errorf("%w: key: %w", crawler.ErrDecode, err)
	}
	value, err := url.QueryUnescape(rawValue)
	if err != nil {
		return Param{}, fmt.Errorf("%w: value: %w", crawler.ErrDecode, err)
	}
	return Param{Key: key, Value: value}, nil
}
