// Package simple contains a permissive policy hook.
package simple

import (
	"context"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// Policy admits every candidate and discovers nothing, so only seeds and
// redirect targets are crawled.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// ShouldAdmit always returns true.
func (Policy) ShouldAdmit(context.Context, crawler.Candidate) bool {
	return true
}

// OnDequeue returns no candidates.
func (Policy) OnDequeue(context.Context, crawler.WorkItem, crawler.FetchResult) []crawler.Candidate {
	return nil
}

var _ crawler.PolicyHook = Policy{}
