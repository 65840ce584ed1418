package domain

import (
	"strings"
	"time"
)

// Note is a free-form household note.
type Note struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Pinned    bool      `json:"pinned"`
	Shared    bool      `json:"shared"`
	LabelIDs  []string  `json:"labelIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Visibility returns the fields access rules evaluate.
func (n Note) Visibility() Visibility {
	return Visibility{OwnerID: n.OwnerID, Shared: n.Shared, LabelIDs: n.LabelIDs}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Matches reports whether text occurs in the title or body, ignoring case.
func (n Note) Matches(text string) bool {
	return containsFold(n.Title, text) || containsFold(n.Body, text)
}
