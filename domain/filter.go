package domain

// SavedFilter is a named task query. Filters are always private to their owner.
type SavedFilter struct {
	ID      string    `json:"id"`
	OwnerID string    `json:"ownerId"`
	Name    string    `json:"name"`
	Query   TaskQuery `json:"query"`
}
