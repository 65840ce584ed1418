package domain

// Label tags tasks and notes. A private label hides every item carrying it
// from non-owners.
type Label struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	Shared  bool   `json:"shared"`
}

// Visibility returns the fields access rules evaluate. Labels carry no labels.
func (l Label) Visibility() Visibility {
	return Visibility{OwnerID: l.OwnerID, Shared: l.Shared}
}

// CascadeResult lists the items whose shared flag was rewritten by a label
// privacy toggle.
type CascadeResult struct {
	Label   Label    `json:"label"`
	TaskIDs []string `json:"taskIds"`
	NoteIDs []string `json:"noteIds"`
}
