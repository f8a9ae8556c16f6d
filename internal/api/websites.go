package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

type websiteRequest struct {
	Name       *string `json:"name"`
	BaseURL    *string `json:"base_url"`
	SitemapURL *string `json:"sitemap_url"`
	Active     *bool   `json:"active"`
}

type categoryRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// apply copies the set fields of req onto website, validating each.
func (req websiteRequest) apply(website *crawler.Website) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return crawler.Invalidf("name must not be empty")
		}
		website.Name = name
	}
	if req.BaseURL != nil {
		baseURL, err := crawler.NormalizeURL(*req.BaseURL)
		if err != nil {
			return crawler.Invalidf("base_url: %v", err)
		}
		website.BaseURL = baseURL
	}
	if req.SitemapURL != nil {
		sitemap := strings.TrimSpace(*req.SitemapURL)
		if sitemap != "" {
			if _, err := crawler.NormalizeURL(sitemap); err != nil {
				return crawler.Invalidf("sitemap_url: %v", err)
			}
		}
		website.SitemapURL = sitemap
	}
	if req.Active != nil {
		website.Active = *req.Active
	}
	return nil
}

func (s *Server) listWebsites(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := s.deps.Websites.ListWebsites(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []crawler.Website{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"websites": list})
}

func (s *Server) createWebsite(w http.ResponseWriter, r *http.Request) {
	var req websiteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == nil || req.BaseURL == nil {
		writeError(w, http.StatusBadRequest, "name and base_url are required")
		return
	}
	website := crawler.Website{Active: true}
	if err := req.apply(&website); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.fail(w, r, fmt.Errorf("generate website id: %w", err))
		return
	}
	now := s.deps.Clock.Now()
	website.ID = id
	website.CreatedAt = now
	website.UpdatedAt = now
	if err := s.deps.Websites.CreateWebsite(r.Context(), website); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, website)
}

func (s *Server) getWebsite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	website, err := s.deps.Websites.GetWebsite(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, website)
}

func (s *Server) updateWebsite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req websiteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	website, err := s.deps.Websites.GetWebsite(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.apply(&website); err != nil {
		s.fail(w, r, err)
		return
	}
	website.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Websites.UpdateWebsite(r.Context(), website); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, website)
}

func (s *Server) deleteWebsite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Websites.DeleteWebsite(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	websiteID, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.deps.Websites.GetWebsite(r.Context(), websiteID); err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.deps.Websites.ListCategories(r.Context(), websiteID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []crawler.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": list})
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	websiteID, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	categoryURL, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		s.fail(w, r, crawler.Invalidf("url: %v", err))
		return
	}
	if _, err := s.deps.Websites.GetWebsite(r.Context(), websiteID); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.fail(w, r, fmt.Errorf("generate category id: %w", err))
		return
	}
	category := crawler.Category{
		ID:        id,
		WebsiteID: websiteID,
		Name:      strings.TrimSpace(req.Name),
		URL:       categoryURL,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := s.deps.Websites.CreateCategory(r.Context(), category); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (s *Server) websiteStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "website_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.deps.Stats.WebsiteStats(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
