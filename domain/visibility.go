package domain

import (
	"strings"

	"github.com/bytedance/sonic"
)

// Visibility is the part of an item that access rules look at.
type Visibility struct {
	OwnerID  string
	Shared   bool
	LabelIDs []string
}

// HasLabel reports whether id is among the label ids.
func (v Visibility) HasLabel(id string) bool {
	for _, l := range v.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// NormalizeLabelIDs trims ids, drops empty ones and removes duplicates while
// keeping the first-seen order.
func NormalizeLabelIDs(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParseLabelIDs decodes a stored JSON array of label ids. A malformed value
// yields an empty set rather than an error: a broken label collection must
// never add restrictions beyond the item's own shared flag.
func ParseLabelIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}
	var ids []string
	if err := sonic.UnmarshalString(raw, &ids); err != nil {
		return []string{}
	}
	return NormalizeLabelIDs(ids)
}

// FormatLabelIDs encodes label ids for storage in a single column.
func FormatLabelIDs(ids []string) string {
	data, err := sonic.MarshalString(NormalizeLabelIDs(ids))
	if err != nil {
		return "[]"
	}
	return data
}
