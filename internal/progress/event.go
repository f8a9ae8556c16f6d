package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Lifecycle and per-URL stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobPause    Stage = "JOB_PAUSE"
	StageJobResume   Stage = "JOB_RESUME"
	StageJobStop     Stage = "JOB_STOP"
	StageJobComplete Stage = "JOB_COMPLETE"
	StageJobFail     Stage = "JOB_FAIL"
	StageJobRestart  Stage = "JOB_RESTART"
	StageURLDone     Stage = "URL_DONE"
	StageURLError    Stage = "URL_ERROR"
)

// Lifecycle reports whether the stage is a job state change.
func (s Stage) Lifecycle() bool {
	switch s {
	case StageJobStart, StageJobPause, StageJobResume, StageJobStop,
		StageJobComplete, StageJobFail, StageJobRestart:
		return true
	default:
		return false
	}
}

// Outcome classifies how a processed URL landed in the article store.
type Outcome string

// URL outcomes.
const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Event is one lifecycle or per-URL milestone.
type Event struct {
	JobID     string            `json:"job_id"`
	WebsiteID string            `json:"website_id,omitempty"`
	TS        time.Time         `json:"ts"`
	Stage     Stage             `json:"stage"`
	Site      string            `json:"site,omitempty"`
	URL       string            `json:"url,omitempty"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	ErrorKind crawler.ErrorKind `json:"error_type,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	Dur       time.Duration     `json:"duration_ns,omitempty"`
	// Found and Processed are the job counters at the time of the event.
	Found     int    `json:"articles_found"`
	Processed int    `json:"articles_processed"`
	Note      string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch {
	case e.Stage.Lifecycle():
	case e.Stage == StageURLDone:
		if e.Site == "" {
			return errors.New("url done requires site")
		}
		if e.Outcome == "" {
			return errors.New("url done requires outcome")
		}
	case e.Stage == StageURLError:
		if e.Site == "" {
			return errors.New("url error requires site")
		}
		if e.ErrorKind == "" {
			return errors.New("url error requires error kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// StageForStatus maps the status a job just entered to its lifecycle stage.
// resumed distinguishes paused→running from a fresh start.
func StageForStatus(status crawler.JobStatus, resumed bool) Stage {
	switch status {
	case crawler.JobStatusRunning:
		if resumed {
			return StageJobResume
		}
		return StageJobStart
	case crawler.JobStatusPaused:
		return StageJobPause
	case crawler.JobStatusStopped:
		return StageJobStop
	case crawler.JobStatusCompleted:
		return StageJobComplete
	case crawler.JobStatusFailed:
		return StageJobFail
	default:
		return StageJobRestart
	}
}

// PartitionKey keys published events by job so one job's lifecycle stays
// ordered on partitioned transports.
func (e Event) PartitionKey() string {
	return e.JobID
}
