package robots

import (
	"strings"
	"time"
)

// HostDirectives are the rules that apply to one agent on one host.
type HostDirectives struct {
	Host       string        `json:"host"`
	Rules      []Rule        `json:"rules,omitempty"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	Sitemaps   []string      `json:"sitemaps,omitempty"`
	FetchedAt  time.Time     `json:"fetched_at"`
}

// Allows reports whether path (including any query) may be fetched. The
// longest matching rule wins and a tie between Allow and Disallow goes to
// Allow. No matching rule means allowed.
func (d HostDirectives) Allows(path string) bool {
	if path == "" {
		path = "/"
	}
	bestLen := -1
	allowed := true
	for _, r := range d.Rules {
		if !matches(r.Path, path) {
			continue
		}
		n := len(r.Path)
		switch {
		case n > bestLen:
			bestLen = n
			allowed = r.Allow
		case n == bestLen && r.Allow:
			allowed = true
		}
	}
	return allowed
}

// matches implements prefix matching with "*" wildcards and a trailing "$"
// end anchor.
func matches(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(path[pos:], parts[i])
		if idx < 0 {
			return false
		}
		pos += idx + len(parts[i])
	}
	tail := parts[last]
	if anchored {
		return len(path)-pos >= len(tail) && strings.HasSuffix(path, tail)
	}
	return strings.Contains(path[pos:], tail)
}
