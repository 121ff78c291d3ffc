package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names what an Event reports.
type Stage string

// Supported stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageRedirect   Stage = "REDIRECT"
	StageRetry      Stage = "RETRY"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one unit of crawl activity.
type Event struct {
	// RunID identifies the crawl process that emitted the event.
	RunID uuid.UUID `json:"run_id"`
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Host is set for every fetch-scoped stage.
	Host  string `json:"host,omitempty"`
	URL   string `json:"url,omitempty"`
	DocID int64  `json:"doc_id,omitempty"`
	Depth int    `json:"depth,omitempty"`
	Bytes int64  `json:"bytes,omitempty"`
	// StatusClass is required for StageFetchDone.
	StatusClass StatusClass   `json:"status_class,omitempty"`
	Dur         time.Duration `json:"dur_ns,omitempty"`
	// Note carries low-volume context such as error text or a redirect
	// target.
	Note string `json:"note,omitempty"`
	// TraceID links the event to the fetch span when tracing is on.
	TraceID string `json:"trace_id,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageFetchDone:
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
		fallthrough
	case StageFetchError, StageRedirect, StageRetry:
		if e.Host == "" {
			return fmt.Errorf("%s requires host", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
