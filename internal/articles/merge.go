package articles

import (
	"slices"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// Changed field names reported by Merge. Metadata keys are reported as
// "metadata.<key>".
const (
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldImageURL    = "image_url"
	FieldPublishedAt = "published_at"
	FieldCategories  = "categories"
	metadataPrefix   = "metadata."
)

// Merge overlays in onto existing. Scalars change only when the incoming value
// is non-empty, metadata keys present in in win and absent keys are kept, and
// categories are set-unioned. It returns the merged article and the sorted
// list of fields whose stored value actually changed.
func Merge(existing crawler.Article, in Input) (crawler.Article, []string) {
	next := existing
	var changed []string

	if in.Fields.Title != "" && in.Fields.Title != existing.Title {
		next.Title = in.Fields.Title
		changed = append(changed, FieldTitle)
	}
	if in.Fields.Author != "" && in.Fields.Author != existing.Author {
		next.Author = in.Fields.Author
		changed = append(changed, FieldAuthor)
	}
	if in.Fields.ImageURL != "" && in.Fields.ImageURL != existing.ImageURL {
		next.ImageURL = in.Fields.ImageURL
		changed = append(changed, FieldImageURL)
	}
	if in.Fields.PublishedAt != nil && (existing.PublishedAt == nil || !in.Fields.PublishedAt.Equal(*existing.PublishedAt)) {
		published := *in.Fields.PublishedAt
		next.PublishedAt = &published
		changed = append(changed, FieldPublishedAt)
	}

	for _, key := range existing.Metadata.ChangedKeys(in.Metadata) {
		changed = append(changed, metadataPrefix+key)
	}
	next.Metadata = existing.Metadata.Merge(in.Metadata)

	next.Categories = crawler.UnionStrings(existing.Categories, in.Categories)
	if len(next.Categories) != len(crawler.UnionStrings(nil, existing.Categories)) {
		changed = append(changed, FieldCategories)
	}

	slices.Sort(changed)
	return next, changed
}
