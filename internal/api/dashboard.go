package api

import (
	"net/http"
)

const defaultRecentErrors = 20

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Stats.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recentErrors(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r, defaultRecentErrors, maxPageLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Errors.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": list})
}

func (s *Server) errorSummary(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.deps.Errors.Summary(r.Context(), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) performance(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.deps.Stats.Performance(r.Context(), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// resolveError handles POST /v1/errors/{error_id}/resolve. Resolving an
// already resolved error returns it unchanged.
func (s *Server) resolveError(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "error_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	record, err := s.deps.Errors.Resolve(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
