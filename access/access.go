// Package access decides whether a principal may see or change a household
// item. All functions are pure; callers load the label snapshot they need
// and pass it in.
package access

import "todoless/domain"

// LabelIndex resolves the privacy of a label by id. ok is false when the
// label does not exist.
type LabelIndex interface {
	LabelShared(id string) (shared bool, ok bool)
}

// Labels is a LabelIndex built from a snapshot of label rows.
type Labels map[string]bool

// NewLabels indexes labels by id.
func NewLabels(labels []domain.Label) Labels {
	idx := make(Labels, len(labels))
	for _, l := range labels {
		idx[l.ID] = l.Shared
	}
	return idx
}

// LabelShared implements LabelIndex.
func (l Labels) LabelShared(id string) (bool, bool) {
	shared, ok := l[id]
	return shared, ok
}

// IsAccessible reports whether principalID may view item.
//
// The owner always may. Otherwise the item must be shared and none of its
// known labels may be private; the first private label vetoes access.
// Unknown label ids are skipped.
func IsAccessible(item domain.Visibility, principalID string, labels LabelIndex) bool {
	if item.OwnerID == principalID {
		return true
	}
	if !item.Shared {
		return false
	}
	if labels == nil {
		return true
	}
	for _, id := range item.LabelIDs {
		if shared, ok := labels.LabelShared(id); ok && !shared {
			return false
		}
	}
	return true
}

// CanMutateSharedFlag reports whether principalID may flip the item's own
// shared flag. Only the owner may.
func CanMutateSharedFlag(item domain.Visibility, principalID string) bool {
	return item.OwnerID == principalID
}

// CanMutate reports whether p may change item. Owners and the assignee
// always may; admins may change anything they can see; restricted
// principals nothing else.
func CanMutate(p domain.User, item domain.Visibility, assigneeID string, labels LabelIndex) bool {
	if item.OwnerID == p.ID {
		return true
	}
	if assigneeID != "" && assigneeID == p.ID {
		return true
	}
	return p.IsAdmin() && IsAccessible(item, p.ID, labels)
}

// CanDelete reports whether p may delete item: the owner, or an admin who can
// see it. Assignment does not grant deletion.
func CanDelete(p domain.User, item domain.Visibility, labels LabelIndex) bool {
	if item.OwnerID == p.ID {
		return true
	}
	return p.IsAdmin() && IsAccessible(item, p.ID, labels)
}

// Require turns a failed check into domain.ErrAccessDenied.
func Require(allowed bool) error {
	if !allowed {
		return domain.ErrAccessDenied
	}
	return nil
}

// Audience returns the users among userIDs that can see item, plus the
// owner and every non-empty id in extra, without duplicates.
func Audience(item domain.Visibility, userIDs []string, labels LabelIndex, extra ...string) []string {
	seen := make(map[string]struct{}, len(userIDs)+len(extra)+1)
	out := make([]string, 0, len(userIDs)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(item.OwnerID)
	for _, id := range extra {
		add(id)
	}
	for _, id := range userIDs {
		if IsAccessible(item, id, labels) {
			add(id)
		}
	}
	return out
}

// Lost returns the ids present in before but missing from after, i.e. the
// users an update has hidden the item from.
func Lost(before, after []string) []string {
	keep := make(map[string]struct{}, len(after))
	for _, id := range after {
		keep[id] = struct{}{}
	}
	var out []string
	for _, id := range before {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
