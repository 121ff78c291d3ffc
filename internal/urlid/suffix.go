package urlid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// SuffixList answers whether a dot-separated domain is itself a public
// suffix such as "co.uk".
type SuffixList interface {
	IsPublicSuffix(domain string) bool
}

// PublicSuffixList consults the ICANN section of the table compiled into
// golang.org/x/net/publicsuffix.
type PublicSuffixList struct{}

// IsPublicSuffix implements SuffixList.
func (PublicSuffixList) IsPublicSuffix(domain string) bool {
	domain = strings.ToLower(strings.Trim(domain, "."))
	if domain == "" {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(domain)
	return icann && suffix == domain
}

// StaticSuffixList is an immutable set of suffixes loaded once at startup.
type StaticSuffixList struct {
	entries map[string]struct{}
}

// NewStaticSuffixList builds a list from explicit entries.
func NewStaticSuffixList(entries ...string) *StaticSuffixList {
	l := &StaticSuffixList{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.ToLower(strings.Trim(strings.TrimSpace(e), "."))
		if e != "" {
			l.entries[e] = struct{}{}
		}
	}
	return l
}

// LoadSuffixList reads one suffix per line. Blank lines and lines starting
// with "//" or "#" are ignored, matching the public suffix list file format.
func LoadSuffixList(r io.Reader) (*StaticSuffixList, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			entries = append(entries, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read suffix list: %w", err)
	}
	return NewStaticSuffixList(entries...), nil
}

// LoadSuffixFile opens path and loads it with LoadSuffixList.
func LoadSuffixFile(path string) (*StaticSuffixList, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open suffix list: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	return LoadSuffixList(f)
}

// Len returns the number of loaded suffixes.
func (l *StaticSuffixList) Len() int {
	return len(l.entries)
}

// IsPublicSuffix implements SuffixList.
func (l *StaticSuffixList) IsPublicSuffix(domain string) bool {
	if l == nil {
		return false
	}
	_, ok := l.entries[strings.ToLower(strings.Trim(domain, "."))]
	return ok
}
