package filter

import (
	"strings"
	"sync"
)

// domainPatterns matches hosts against configured domains. An entry matches
// either the host itself or, when written "*.d" or ".d", d and everything
// under it.
type domainPatterns struct {
	exact   map[string]struct{}
	subtree map[string]struct{}
}

// newDomainPatterns returns nil when no usable pattern is given.
func newDomainPatterns(patterns []string) *domainPatterns {
	d := &domainPatterns{
		exact:   make(map[string]struct{}),
		subtree: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		root, wildcard := strings.CutPrefix(value, "*.")
		if !wildcard {
			root, wildcard = strings.CutPrefix(value, ".")
		}
		root = strings.TrimSuffix(root, ".")
		switch {
		case root == "":
		case wildcard:
			d.subtree[root] = struct{}{}
		default:
			d.exact[root] = struct{}{}
		}
	}
	if len(d.exact) == 0 && len(d.subtree) == 0 {
		return nil
	}
	return d
}

// Match walks host's parent domains, so a lookup costs one probe per label.
func (d *domainPatterns) Match(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := d.exact[host]; ok {
		return true
	}
	for name := host; name != ""; {
		if _, ok := d.subtree[name]; ok {
			return true
		}
		_, parent, found := strings.Cut(name, ".")
		if !found {
			break
		}
		name = parent
	}
	return false
}

// forbiddenTracker blocks a host once it has answered 403 threshold times.
type forbiddenTracker struct {
	threshold int

	mu    sync.Mutex
	count map[string]int
}

// newForbiddenTracker returns nil, which never blocks, for threshold <= 0.
func newForbiddenTracker(threshold int) *forbiddenTracker {
	if threshold <= 0 {
		return nil
	}
	return &forbiddenTracker{threshold: threshold, count: make(map[string]int)}
}

func (b *forbiddenTracker) IsBlocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count[strings.ToLower(host)] >= b.threshold
}

// MarkForbidden records a 403 from host and reports whether it is now
// blocked. Counts stop growing at the threshold.
func (b *forbiddenTracker) MarkForbidden(host string) bool {
	if b == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count[key] < b.threshold {
		b.count[key]++
	}
	return b.count[key] >= b.threshold
}
