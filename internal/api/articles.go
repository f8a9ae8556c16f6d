package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// listArticles handles GET /v1/articles?website_id=&search=&limit=&offset=
// and returns {"articles": [...], "total": n}.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := s.deps.Articles.List(r.Context(), store.ArticleFilter{
		WebsiteID:  q.Get("website_id"),
		Search:     q.Get("search"),
		ActiveOnly: q.Get("include_inactive") != "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "article_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	article, err := s.deps.Articles.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

// getArticleByURL handles GET /v1/articles/url/<absolute url>.
func (s *Server) getArticleByURL(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		s.fail(w, r, crawler.Invalidf("article url: %v", err))
		return
	}
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}
	article, err := s.deps.Articles.GetByURL(r.Context(), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}
