// Package jobs owns the crawl job lifecycle: one state machine goroutine per
// active job and a registry that starts, controls and recovers them.
package jobs

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// Action is an operator command addressed to a job.
type Action string

// Job commands.
const (
	ActionStart   Action = "start"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// ParseAction converts user input into one of the control actions accepted
// on an existing job.
func ParseAction(input string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(input)))
	switch action {
	case ActionPause, ActionResume, ActionStop, ActionRestart:
		return action, nil
	default:
		return "", crawler.Invalidf("unknown action %q", input)
	}
}

// transitions maps each action to the statuses it is valid from and the
// status it leads to. start and restart pass through pending.
var transitions = map[Action]struct {
	from []crawler.JobStatus
	to   crawler.JobStatus
}{
	ActionStart:   {from: []crawler.JobStatus{crawler.JobStatusPending}, to: crawler.JobStatusRunning},
	ActionPause:   {from: []crawler.JobStatus{crawler.JobStatusRunning}, to: crawler.JobStatusPaused},
	ActionResume:  {from: []crawler.JobStatus{crawler.JobStatusPaused}, to: crawler.JobStatusRunning},
	ActionStop:    {from: []crawler.JobStatus{crawler.JobStatusRunning, crawler.JobStatusPaused}, to: crawler.JobStatusStopped},
	ActionRestart: {from: []crawler.JobStatus{crawler.JobStatusCompleted, crawler.JobStatusFailed, crawler.JobStatusStopped}, to: crawler.JobStatusPending},
}

// Next returns the status action moves job to, or an *InvalidTransitionError.
func Next(job crawler.Job, action Action) (crawler.JobStatus, error) {
	rule, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("job %s: %w", job.ID, crawler.Invalidf("unknown action %q", action))
	}
	for _, from := range rule.from {
		if job.Status == from {
			return rule.to, nil
		}
	}
	return "", &InvalidTransitionError{JobID: job.ID, From: job.Status, Action: action}
}
