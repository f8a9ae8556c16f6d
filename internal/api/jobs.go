package api

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// jobDTO is the wire form of a job snapshot. articles_scraped mirrors
// articles_processed for clients of the dashboard.
type jobDTO struct {
	crawler.JobSnapshot
	ArticlesScraped int `json:"articles_scraped"`
}

func toJobDTO(snap crawler.JobSnapshot) jobDTO {
	return jobDTO{JobSnapshot: snap, ArticlesScraped: snap.ArticlesProcessed}
}

type startRequest struct {
	WebsiteID string            `json:"website_id"`
	Config    crawler.JobConfig `json:"config"`
}

type startAllResult struct {
	WebsiteID string  `json:"website_id"`
	Job       *jobDTO `json:"job,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type controlRequest struct {
	Action string `json:"action"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.WebsiteID) == "" {
		writeError(w, http.StatusBadRequest, "website_id is required")
		return
	}
	snap, err := s.deps.Jobs.Start(r.Context(), req.WebsiteID, req.Config)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDTO(snap))
}

func (s *Server) startAll(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	results, err := s.deps.Jobs.StartAll(r.Context(), req.Config)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]startAllResult, 0, len(results))
	for _, res := range results {
		item := startAllResult{WebsiteID: res.WebsiteID, Error: res.Error}
		if res.Job != nil {
			dto := toJobDTO(*res.Job)
			item.Job = &dto
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// listJobs handles GET /v1/jobs?website_id=&status=&limit=&offset=. status
// accepts a comma separated list.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snaps, total, err := s.deps.Jobs.List(r.Context(), store.JobFilter{
		WebsiteID:   q.Get("website_id"),
		Statuses:    statuses,
		CreatedFrom: from,
		CreatedTo:   to,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]jobDTO, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toJobDTO(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "total": total})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "job_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(snap))
}

func (s *Server) controlJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "job_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	action, err := jobs.ParseAction(req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.deps.Jobs.Control(r.Context(), jobID, action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(snap))
}

func (s *Server) jobErrors(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jobID, err := pathID(r, "job_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.deps.Jobs.Get(r.Context(), jobID); err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Errors.ListByJob(r.Context(), jobID, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": list})
}
