// Package detector decides when a plainly fetched page needs a browser
// render before its links can be extracted.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

const defaultMinText = 200

// spaRoots are mount points that client-side frameworks fill at runtime.
var spaRoots = []string{"#__next", "#root", "#app", "[data-reactroot]", "#__nuxt"}

// Heuristic flags HTML pages whose visible content is missing until scripts
// run: an empty framework mount point, or little text next to heavy script.
type Heuristic struct {
	// MinText is the visible text length under which a script-heavy page
	// is promoted.
	MinText int
}

// NewHeuristic creates a detector. minText <= 0 uses the default.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Heuristic{MinText: minText}
}

// ShouldPromote reports whether result should be re-rendered.
func (h *Heuristic) ShouldPromote(result crawler.FetchResult) bool {
	if result.StatusCode != http.StatusOK || !isHTML(result.Headers) {
		return false
	}
	if len(bytes.TrimSpace(result.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return false
	}
	for _, sel := range spaRoots {
		root := doc.Find(sel).First()
		if root.Length() > 0 && strings.TrimSpace(root.Text()) == "" && root.Children().Length() == 0 {
			return true
		}
	}

	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(s.Text())
		if src, ok := s.Attr("src"); ok && src != "" {
			// External bundles count as heavy even though their body is empty.
			scripts += h.MinText
		}
	})
	if scripts == 0 {
		return false
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	text := len(strings.Join(strings.Fields(body.Text()), " "))
	return text < h.MinText && scripts > text
}

// isHTML treats a missing Content-Type as HTML.
func isHTML(headers http.Header) bool {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
