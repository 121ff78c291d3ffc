package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors. Everything except ErrStorage describes a discarded URL or
// a shutdown and is not fatal to the crawl.
var (
	ErrMalformedURL             = errors.New("malformed url")
	ErrDecode                   = errors.New("query parameter decode failed")
	ErrQueueFull                = errors.New("frontier queue full")
	ErrDepthExceeded            = errors.New("depth exceeded")
	ErrRedirectionLoopSuspected = errors.New("redirection loop suspected")
	ErrAlreadySeen              = errors.New("url already seen")
	ErrDisallowed               = errors.New("disallowed by robots.txt")
	ErrRejected                 = errors.New("rejected by policy")
	ErrRetriesExhausted         = errors.New("retries exhausted")
	ErrRobotsFetchFailed        = errors.New("robots fetch failed")
	ErrRobotsParseFailed        = errors.New("robots parse failed")
	ErrStopped                  = errors.New("frontier stopped")
	ErrStorage                  = errors.New("storage failure")
)

// StorageError wraps a backend failure so callers can detect it with
// errors.Is(err, ErrStorage) while keeping the driver error inspectable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsFatal reports whether err must stop the crawl.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorage)
}
