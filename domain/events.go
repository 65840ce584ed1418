package domain

// Entity kinds, used as event name prefixes.
const (
	KindTask     = "task"
	KindNote     = "note"
	KindLabel    = "label"
	KindWorkflow = "workflow"
)

// Event name suffixes.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// LabelsUpdated is published to every user after a label privacy toggle.
const LabelsUpdated = "labels-updated"

// EventName builds the per-kind event name, e.g. "task-updated".
func EventName(kind, action string) string {
	return kind + "-" + action
}

// DeletedPayload is the body of every *-deleted event.
type DeletedPayload struct {
	ID string `json:"id"`
}
