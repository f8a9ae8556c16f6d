// Package crawler holds the domain model shared by the orchestrator: websites,
// categories, discovered URLs, articles, scraping jobs and errors, plus the
// collaborator interfaces (workers, fetchers, publishers, clocks) the rest of
// the service is written against.
package crawler
