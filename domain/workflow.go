package domain

// Workflow is a kanban board; Stages are its ordered columns.
type Workflow struct {
	ID      string   `json:"id"`
	OwnerID string   `json:"ownerId"`
	Name    string   `json:"name"`
	Stages  []string `json:"stages"`
	Shared  bool     `json:"shared"`
}

// Visibility returns the fields access rules evaluate.
func (w Workflow) Visibility() Visibility {
	return Visibility{OwnerID: w.OwnerID, Shared: w.Shared}
}

// HasStage reports whether stage is one of the workflow's columns.
func (w Workflow) HasStage(stage string) bool {
	for _, s := range w.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
