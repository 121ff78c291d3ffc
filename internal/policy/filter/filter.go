// Package filter is a PolicyHook that admits http(s) pages inside an
// allowlist of domains, skips binary file extensions and blocked hosts, and
// discovers candidates from the anchors of fetched HTML.
package filter

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// DefaultExcludePattern matches paths of files that are never HTML.
const DefaultExcludePattern = `\.(css|js|bmp|gif|jpe?g|ico|png|tiff?|mid|mp2|mp3|mp4|wav|avi|mov|mpeg|ram|m4v|mkv|ogg|ogv|pdf|ps|eps|tex|ppt|pptx|doc|docx|xls|xlsx|names|data|dat|exe|bz2|tar|msi|bin|7z|psd|dmg|iso|epub|dll|cnf|tgz|sha1|thmx|mso|arff|rtf|jar|csv|rm|smil|wmv|swf|wma|zip|rar|gz)$`

// AnchorTag is the Tag of candidates discovered in <a href>.
const AnchorTag = "a"

// Config controls what the policy admits and discovers.
type Config struct {
	// AllowedDomains restricts admission to these hosts and their
	// subdomains. Empty admits every host.
	AllowedDomains []string
	// BlockedDomains accepts "host", "*.suffix" and ".suffix" patterns.
	BlockedDomains []string
	// ExcludePattern overrides DefaultExcludePattern when set.
	ExcludePattern string
	// ForbiddenThreshold blocks a host after this many 403 responses.
	// Zero disables it.
	ForbiddenThreshold int
	// MaxLinksPerPage caps discovery per page. Zero means no cap.
	MaxLinksPerPage int
}

// Policy implements crawler.PolicyHook.
type Policy struct {
	cfg       Config
	allowed   *domainPatterns
	blocked   *domainPatterns
	exclude   *regexp.Regexp
	forbidden *forbiddenTracker
	logger    *zap.Logger
}

// New compiles cfg into a Policy.
func New(cfg Config, logger *zap.Logger) (*Policy, error) {
	pattern := cfg.ExcludePattern
	if pattern == "" {
		pattern = DefaultExcludePattern
	}
	exclude, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile exclude pattern: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make([]string, 0, len(cfg.AllowedDomains))
	for _, domain := range cfg.AllowedDomains {
		domain = strings.TrimPrefix(strings.TrimSpace(domain), "*.")
		if domain == "" {
			continue
		}
		allowed = append(allowed, domain, "*."+domain)
	}
	return &Policy{
		cfg:       cfg,
		allowed:   newDomainPatterns(allowed),
		blocked:   newDomainPatterns(cfg.BlockedDomains),
		exclude:   exclude,
		forbidden: newForbiddenTracker(cfg.ForbiddenThreshold),
		logger:    logger,
	}, nil
}

// ShouldAdmit implements crawler.PolicyHook.
func (p *Policy) ShouldAdmit(_ context.Context, candidate crawler.Candidate) bool {
	u, err := url.Parse(strings.TrimSpace(candidate.URL))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if p.allowed != nil && !p.allowed.Match(host) {
		return false
	}
	if p.blocked.Match(host) || p.forbidden.IsBlocked(host) {
		return false
	}
	return !p.exclude.MatchString(u.Path)
}

// OnDequeue implements crawler.PolicyHook. 403 responses count toward the
// host's forbidden threshold; HTML bodies yield one candidate per anchor.
func (p *Policy) OnDequeue(_ context.Context, item crawler.WorkItem, result crawler.FetchResult) []crawler.Candidate {
	if result.StatusCode == 403 {
		if p.forbidden.MarkForbidden(item.Host) {
			p.logger.Warn("host blocked after repeated 403 responses", zap.String("host", item.Host))
		}
		return nil
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 || len(result.Body) == 0 {
		return nil
	}
	if !isHTML(result.Headers.Get("Content-Type")) {
		return nil
	}

	base := result.URL
	if base == "" {
		base = item.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		p.logger.Debug("html parse failed", zap.String("url", base), zap.Error(err))
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = baseURL.ResolveReference(ref)
		}
	}

	parent := item
	seen := make(map[string]struct{})
	var out []crawler.Candidate
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if p.cfg.MaxLinksPerPage > 0 && len(out) >= p.cfg.MaxLinksPerPage {
			return false
		}
		href, _ := s.Attr("href")
		target, ok := resolveLink(baseURL, href)
		if !ok {
			return true
		}
		if _, dup := seen[target]; dup {
			return true
		}
		seen[target] = struct{}{}

		anchor := strings.Join(strings.Fields(s.Text()), " ")
		attrs := map[string]string{"anchor": anchor}
		if rel, ok := s.Attr("rel"); ok {
			attrs["rel"] = rel
		}
		out = append(out, crawler.Candidate{
			URL:        target,
			Parent:     &parent,
			Priority:   item.Priority,
			Tag:        AnchorTag,
			Anchor:     anchor,
			Attributes: attrs,
		})
		return true
	})
	return out
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

var _ crawler.PolicyHook = (*Policy)(nil)
