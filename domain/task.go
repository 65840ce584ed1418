package domain

import "time"

// TaskStatus is the list/kanban state of a task.
type TaskStatus string

const (
	StatusTodo  TaskStatus = "todo"
	StatusDoing TaskStatus = "doing"
	StatusDone  TaskStatus = "done"
)

// Task represents a single household todo item.
type Task struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	AssigneeID string     `json:"assigneeId,omitempty"`
	Title      string     `json:"title"`
	Notes      string     `json:"notes,omitempty"`
	Status     TaskStatus `json:"status"`
	WorkflowID string     `json:"workflowId,omitempty"`
	Stage      string     `json:"stage,omitempty"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
	Order      int        `json:"order"`
	Shared     bool       `json:"shared"`
	LabelIDs   []string   `json:"labelIds"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Visibility returns the fields access rules evaluate.
func (t Task) Visibility() Visibility {
	return Visibility{OwnerID: t.OwnerID, Shared: t.Shared, LabelIDs: t.LabelIDs}
}

// TaskQuery narrows task listings. Zero fields do not filter.
type TaskQuery struct {
	Status     TaskStatus `json:"status,omitempty"`
	LabelID    string     `json:"labelId,omitempty"`
	AssigneeID string     `json:"assigneeId,omitempty"`
	WorkflowID string     `json:"workflowId,omitempty"`
	DueFrom    *time.Time `json:"dueFrom,omitempty"`
	DueTo      *time.Time `json:"dueTo,omitempty"`
	Text       string     `json:"text,omitempty"`
}

// Matches reports whether t satisfies every set field of q. Stores that
// cannot push a filter down use it to post-filter rows.
func (q TaskQuery) Matches(t Task) bool {
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.LabelID != "" && !t.Visibility().HasLabel(q.LabelID) {
		return false
	}
	if q.AssigneeID != "" && t.AssigneeID != q.AssigneeID {
		return false
	}
	if q.WorkflowID != "" && t.WorkflowID != q.WorkflowID {
		return false
	}
	if q.DueFrom != nil && (t.DueAt == nil || t.DueAt.Before(*q.DueFrom)) {
		return false
	}
	if q.DueTo != nil && (t.DueAt == nil || t.DueAt.After(*q.DueTo)) {
		return false
	}
	if q.Text != "" && !containsFold(t.Title, q.Text) && !containsFold(t.Notes, q.Text) {
		return false
	}
	return true
}
