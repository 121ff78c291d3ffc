// Package crawler defines the types, interfaces, and sentinel errors shared by
// the frontier, the politeness scheduler, the storage backends, and the crawl
// workers.
package crawler
