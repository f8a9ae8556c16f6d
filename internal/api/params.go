package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/id/uuid"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	defaultDays      = 7
	maxDays          = 365
)

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, crawler.Invalidf("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, crawler.Invalidf("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > maxDays {
		return 0, crawler.Invalidf("days must be between 1 and %d", maxDays)
	}
	return days, nil
}

func parseStatuses(raw string) ([]crawler.JobStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []crawler.JobStatus
	for _, part := range strings.Split(raw, ",") {
		status := crawler.JobStatus(strings.ToLower(strings.TrimSpace(part)))
		if !status.Valid() {
			return nil, crawler.Invalidf("invalid status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, crawler.Invalidf("invalid timestamp %q", raw)
	}
	return &t, nil
}

// pathID reads an entity id from the route. Malformed ids cannot exist, so
// they report store.ErrNotFound without reaching the repository.
func pathID(r *http.Request, name string) (string, error) {
	id := chi.URLParam(r, name)
	if !uuid.Valid(id) {
		return "", fmt.Errorf("%s %q: %w", name, id, store.ErrNotFound)
	}
	return id, nil
}
