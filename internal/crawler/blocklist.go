package crawler

import "strings"

// DefaultExcludedPatterns are path fragments that never lead to articles.
var DefaultExcludedPatterns = []string{
	"/tag/",
	"/category/",
	"/author/",
	"/page/",
	"/wp-content/",
	"/wp-admin/",
	"/wp-json/",
	"/feed/",
	"/search",
	"/login",
	"/register",
	"*.xml",
	"*.pdf",
	"*.jpg",
	"*.jpeg",
	"*.png",
	"*.gif",
	"*.css",
	"*.js",
}

// ExclusionList stores path fragments and file-extension wildcards derived
// from configuration.
type ExclusionList struct {
	fragments  []string
	extensions []string
}

// NewExclusionList parses patterns. "*.ext" entries match file extensions and
// everything else matches as a case-insensitive path fragment. It returns nil
// when no usable pattern is supplied.
func NewExclusionList(patterns []string) *ExclusionList {
	list := &ExclusionList{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if strings.HasPrefix(value, "*.") {
			ext := strings.TrimPrefix(value, "*")
			if ext != "." {
				list.extensions = appendUnique(list.extensions, ext)
			}
			continue
		}
		list.fragments = appendUnique(list.fragments, value)
	}
	if len(list.fragments) == 0 && len(list.extensions) == 0 {
		return nil
	}
	return list
}

// Excludes reports whether path matches any pattern.
func (l *ExclusionList) Excludes(path string) bool {
	if l == nil {
		return false
	}
	path = strings.ToLower(path)
	for _, ext := range l.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	for _, fragment := range l.fragments {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
