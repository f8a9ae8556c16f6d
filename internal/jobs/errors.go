package jobs

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrWebsiteBusy is returned when a website already has an active job.
	ErrWebsiteBusy = errors.New("website already has an active job")
	// ErrNotOwned is returned for an active job that no machine in this
	// process owns, for example one started by another replica.
	ErrNotOwned = errors.New("job is not owned by this process")

	errMachineExited = errors.New("job machine exited")
)

// InvalidTransitionError reports a command that does not apply to the job's
// current status.
type InvalidTransitionError struct {
	JobID  string
	From   crawler.JobStatus
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot %s from %s", e.JobID, e.Action, e.From)
}

// Is matches ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
