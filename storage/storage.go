// Package storage persists household data. Two backends share one contract:
// a relational SQLite store and an Azure Table Storage store.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"todoless/domain"
)

// Backend is the full persistence contract implemented by every store.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error

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

var (
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Tables)(nil)
	_ Backend = (*Cache)(nil)
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverTables = "aztables"
)

// TableNames are the Azure tables used by the table backend.
type TableNames struct {
	Users     string `toml:"users"`
	Tasks     string `toml:"tasks"`
	Notes     string `toml:"notes"`
	Labels    string `toml:"labels"`
	Workflows string `toml:"workflows"`
	Filters   string `toml:"filters"`
}

// All returns the configured table names in creation order.
func (t TableNames) All() []string {
	return []string{t.Users, t.Tasks, t.Notes, t.Labels, t.Workflows, t.Filters}
}

// Options selects and configures a backend.
type Options struct {
	Driver           string
	SQLitePath       string
	ConnectionString string
	Tables           TableNames
}

// Open creates the backend selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return NewSQLite(ctx, opts.SQLitePath)
	case DriverTables:
		return NewTables(opts.ConnectionString, opts.Tables)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseOptionalTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// sortTasks applies the listing order the relational backend uses in SQL.
func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// sortNotes puts pinned notes first, then the most recently updated.
func sortNotes(notes []domain.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}
