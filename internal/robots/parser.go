// Package robots parses robots.txt files and answers per-host permission and
// crawl-delay queries with a TTL cache.
package robots

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/temoto/robotstxt"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// Rule is a single Allow or Disallow line.
type Rule struct {
	Allow bool   `json:"allow"`
	Path  string `json:"path"`
}

// Group is one user-agent record.
type Group struct {
	Agents     []string
	Rules      []Rule
	CrawlDelay time.Duration
}

// Robots is a parsed robots.txt body.
type Robots struct {
	Groups   []Group
	Sitemaps []string
}

// Parse reads a robots.txt body. Records begin with one or more User-agent
// lines and end at a blank line or at the next User-agent line that follows
// a directive. Directives outside any record are ignored. Invalid UTF-8 is
// replaced per line so one bad byte only spoils its own line. Bodies that are
// not text fail with crawler.ErrRobotsParseFailed.
func Parse(content []byte) (*Robots, error) {
	if err := checkText(content); err != nil {
		return nil, err
	}
	r := &Robots{}
	var listed []string

	var (
		current     *Group
		inDirective bool
	)
	flush := func() {
		if current != nil {
			r.Groups = append(r.Groups, *current)
		}
		current = nil
		inDirective = false
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.ToValidUTF8(line, string(utf8.RuneError))
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "sitemap":
			if value != "" {
				listed = append(listed, value)
			}
		case "user-agent":
			if current != nil && inDirective {
				flush()
			}
			if current == nil {
				current = &Group{}
			}
			current.Agents = append(current.Agents, strings.ToLower(value))
		case "allow", "disallow":
			if current == nil {
				continue
			}
			inDirective = true
			if value == "" {
				continue
			}
			if !strings.HasPrefix(value, "/") && !strings.HasPrefix(value, "*") {
				value = "/" + value
			}
			current.Rules = append(current.Rules, Rule{Allow: key == "allow", Path: value})
		case "crawl-delay":
			if current == nil {
				continue
			}
			inDirective = true
			if d, ok := parseDelay(value); ok {
				current.CrawlDelay = d
			}
		}
	}
	flush()
	r.Sitemaps = sitemaps(content, listed)
	return r, nil
}

func checkText(content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 {
		return fmt.Errorf("%w: binary content", crawler.ErrRobotsParseFailed)
	}
	if bytes.HasPrefix(bytes.TrimSpace(content), []byte("<")) {
		return fmt.Errorf("%w: markup instead of robots.txt", crawler.ErrRobotsParseFailed)
	}
	return nil
}

func parseDelay(value string) (time.Duration, bool) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// sitemaps returns the file's Sitemap URLs, which apply to the whole file
// rather than to any record. robotstxt rejects files with orphan directives
// or bad delays that Parse tolerates; listed covers those.
func sitemaps(content []byte, listed []string) []string {
	data, err := robotstxt.FromBytes(content)
	if err != nil || data == nil {
		return listed
	}
	return data.Sitemaps
}

// For merges the records that apply to userAgent. A record naming the
// caller's product token (case-insensitively, the longest name wins) takes
// precedence over "*"; with neither present everything is allowed.
func (r *Robots) For(userAgent string) HostDirectives {
	if r == nil {
		return HostDirectives{}
	}
	token := productToken(userAgent)

	var (
		best     []int
		bestLen  int
		wildcard []int
	)
	for i, g := range r.Groups {
		for _, agent := range g.Agents {
			switch {
			case agent == "*":
				wildcard = appendOnce(wildcard, i)
			case agent != "" && token != "" && strings.HasPrefix(token, agent):
				if len(agent) > bestLen {
					best, bestLen = nil, len(agent)
				}
				if len(agent) == bestLen {
					best = appendOnce(best, i)
				}
			}
		}
	}
	selected := best
	if len(selected) == 0 {
		selected = wildcard
	}

	d := HostDirectives{Sitemaps: r.Sitemaps}
	for _, i := range selected {
		g := r.Groups[i]
		d.Rules = append(d.Rules, g.Rules...)
		if g.CrawlDelay > d.CrawlDelay {
			d.CrawlDelay = g.CrawlDelay
		}
	}
	return d
}

func appendOnce(list []int, i int) []int {
	if n := len(list); n > 0 && list[n-1] == i {
		return list
	}
	return append(list, i)
}

// productToken lowercases a User-Agent and keeps its leading product name,
// so "TestAgent/1.0 (+http://x)" becomes "testagent".
func productToken(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if i := strings.IndexAny(ua, "/ "); i >= 0 {
		ua = ua[:i]
	}
	return ua
}
