package crawler

import (
	"net/http"
	"time"
)

// WorkItem is the unit stored in the frontier. It is created at admission and
// only RedirectionDepth and Attempt change after that.
type WorkItem struct {
	DocID            int64             `json:"doc_id"`
	ParentDocID      int64             `json:"parent_doc_id,omitempty"`
	ParentURL        string            `json:"parent_url,omitempty"`
	URL              string            `json:"url"`
	Host             string            `json:"host"`
	Depth            int               `json:"depth"`
	RedirectionDepth int               `json:"redirection_depth,omitempty"`
	Priority         int8              `json:"priority"`
	Tag              string            `json:"tag,omitempty"`
	Label            string            `json:"label,omitempty"`
	Anchor           string            `json:"anchor,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Attempt          int               `json:"attempt,omitempty"`
	Seq              uint64            `json:"seq"`
	EnqueuedAt       time.Time         `json:"enqueued_at"`
}

// Attribute returns the named attribute or "" when it was never set.
func (w WorkItem) Attribute(name string) string {
	if w.Attributes == nil {
		return ""
	}
	return w.Attributes[name]
}

// Before reports whether w must be dispatched ahead of other: lower priority
// first, then shallower depth, then earlier insertion.
func (w WorkItem) Before(other WorkItem) bool {
	if w.Priority != other.Priority {
		return w.Priority < other.Priority
	}
	if w.Depth != other.Depth {
		return w.Depth < other.Depth
	}
	return w.Seq < other.Seq
}

// Candidate is a URL proposed for admission, either as a seed or discovered
// while processing Parent.
type Candidate struct {
	URL        string
	Parent     *WorkItem
	Priority   int8
	Tag        string
	Label      string
	Anchor     string
	Attributes map[string]string
}

// Depth is 0 for seeds and parent depth + 1 for discovered links.
func (c Candidate) Depth() int {
	if c.Parent == nil {
		return 0
	}
	return c.Parent.Depth + 1
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResult is returned by a Fetcher. RedirectTarget is set, and Body
// empty, when the server answered with a redirect.
type FetchResult struct {
	URL            string
	StatusCode     int
	Headers        http.Header
	Body           []byte
	RedirectTarget string
	Duration       time.Duration
}

// IsRedirect reports whether the fetch ended on a redirect.
func (r FetchResult) IsRedirect() bool {
	return r.RedirectTarget != ""
}

// Stats summarises frontier state for the API and CLI.
type Stats struct {
	Seen         int64    `json:"seen"`
	Queued       int      `json:"queued"`
	PendingHosts []string `json:"pending_hosts"`
	Stopped      bool     `json:"stopped"`
}
