package api

import (
	"context"

	"todoless/domain"
	"todoless/notify"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserRole(ctx context.Context, id string, role domain.Role) (domain.User, error)

	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error

	CreateNote(ctx context.Context, n domain.Note) error
	GetNote(ctx context.Context, id string) (domain.Note, error)
	ListNotes(ctx context.Context) ([]domain.Note, error)
	UpdateNote(ctx context.Context, n domain.Note) error
	DeleteNote(ctx context.Context, id string) error

	CreateLabel(ctx context.Context, l domain.Label) error
	GetLabel(ctx context.Context, id string) (domain.Label, error)
	ListLabels(ctx context.Context) ([]domain.Label, error)
	UpdateLabel(ctx context.Context, l domain.Label) error
	DeleteLabel(ctx context.Context, id string) error
	SetLabelShared(ctx context.Context, id string, shared bool) (domain.CascadeResult, error)

	CreateWorkflow(ctx context.Context, w domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]domain.Workflow, error)
	UpdateWorkflow(ctx context.Context, w domain.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	CreateFilter(ctx context.Context, f domain.SavedFilter) error
	GetFilter(ctx context.Context, id string) (domain.SavedFilter, error)
	ListFilters(ctx context.Context, ownerID string) ([]domain.SavedFilter, error)
	UpdateFilter(ctx context.Context, f domain.SavedFilter) error
	DeleteFilter(ctx context.Context, id string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, userID, key string) error
}

// Hub is the change fan-out used by handlers.
type Hub interface {
	Register(principalID string, ch notify.Channel)
	Unregister(principalID string, ch notify.Channel)
	Publish(principalIDs []string, event string, payload any) int
}
