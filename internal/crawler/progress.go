package crawler

// Percent derives completion as processed / max(found, 1) * 100, clamped to
// [0, 100].
func Percent(found, processed int) float64 {
	if found < 1 {
		found = 1
	}
	p := float64(processed) / float64(found) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// SnapshotProgress reports the percent for a persisted job row. Completed
// jobs always read 100.
func SnapshotProgress(job Job) float64 {
	if job.Status == JobStatusCompleted {
		return 100
	}
	return Percent(job.ArticlesFound, job.ArticlesProcessed)
}
