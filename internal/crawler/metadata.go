package crawler

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// Well-known metadata keys.
const (
	MetaContent     = "content"
	MetaWordCount   = "wordCount"
	MetaReadingTime = "readingTime"
	MetaTags        = "tags"
	MetaCategories  = "categories"
)

// wordsPerMinute drives the derived reading time.
const wordsPerMinute = 200

// Metadata is the open-ended article document. Well-known keys are typed; any
// other source-specific fields live in Extra. A zero value means "absent".
type Metadata struct {
	Content     string
	WordCount   int
	ReadingTime int
	Tags        []string
	Categories  []string
	Extra       map[string]any
}

// MetadataFromResult builds the metadata document for a crawl result.
func MetadataFromResult(res ArticleResult) Metadata {
	md := Metadata{
		Content:    res.Content,
		WordCount:  res.WordCount,
		Categories: cloneStrings(res.Categories),
	}
	if md.WordCount == 0 && md.Content != "" {
		md.WordCount = len(strings.Fields(md.Content))
	}
	if md.WordCount > 0 {
		md.ReadingTime = (md.WordCount + wordsPerMinute - 1) / wordsPerMinute
	}
	if len(res.Metadata) > 0 {
		raw, err := json.Marshal(res.Metadata)
		if err == nil {
			var extra Metadata
			if json.Unmarshal(raw, &extra) == nil {
				md = md.Merge(extra)
			}
		}
	}
	return md
}

// Merge returns m overlaid with next: keys present in next win, keys absent in
// next are kept from m.
func (m Metadata) Merge(next Metadata) Metadata {
	out := m.Clone()
	if next.Content != "" {
		out.Content = next.Content
	}
	if next.WordCount != 0 {
		out.WordCount = next.WordCount
	}
	if next.ReadingTime != 0 {
		out.ReadingTime = next.ReadingTime
	}
	if next.Tags != nil {
		out.Tags = cloneStrings(next.Tags)
	}
	if next.Categories != nil {
		out.Categories = cloneStrings(next.Categories)
	}
	if len(next.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(next.Extra))
		}
		for k, v := range next.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Keys lists the keys present in the document, sorted.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Extra)+5)
	for k := range m.toMap() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChangedKeys lists keys of next whose value differs from m (or is new in m).
func (m Metadata) ChangedKeys(next Metadata) []string {
	current := m.toMap()
	incoming := next.toMap()
	var changed []string
	for k, v := range incoming {
		old, ok := current[k]
		if !ok || !reflect.DeepEqual(normalizeJSON(old), normalizeJSON(v)) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// IsZero reports whether no key is present.
func (m Metadata) IsZero() bool {
	return len(m.toMap()) == 0
}

// MarshalJSON flattens the document into a single JSON object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(m.toMap())
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

// UnmarshalJSON splits a JSON object into well-known keys and Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	out := Metadata{}
	for k, v := range raw {
		switch k {
		case MetaContent:
			s, _ := v.(string)
			out.Content = s
		case MetaWordCount:
			out.WordCount = toInt(v)
		case MetaReadingTime:
			out.ReadingTime = toInt(v)
		case MetaTags:
			out.Tags = toStrings(v)
		case MetaCategories:
			out.Categories = toStrings(v)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = v
		}
	}
	*m = out
	return nil
}

func (m Metadata) toMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+5)
	maps.Copy(out, m.Extra)
	if m.Content != "" {
		out[MetaContent] = m.Content
	}
	if m.WordCount != 0 {
		out[MetaWordCount] = m.WordCount
	}
	if m.ReadingTime != 0 {
		out[MetaReadingTime] = m.ReadingTime
	}
	if m.Tags != nil {
		out[MetaTags] = cloneStrings(m.Tags)
	}
	if m.Categories != nil {
		out[MetaCategories] = cloneStrings(m.Categories)
	}
	return out
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	out.Tags = cloneStrings(m.Tags)
	out.Categories = cloneStrings(m.Categories)
	if m.Extra != nil {
		out.Extra = maps.Clone(m.Extra)
	}
	return out
}

// normalizeJSON round-trips a value so ints and float64s compare equal.
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return cloneStrings(list)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}

// UnionStrings merges b into a preserving first-seen order without duplicates.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
