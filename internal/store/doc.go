// Package store defines the repository interfaces and filters the
// orchestrator persists through (websites, discovered URLs, articles, jobs and
// errors). Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
