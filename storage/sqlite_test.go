package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"todoless/domain"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTask(t *testing.T, s *SQLite, task domain.Task) {
	t.Helper()
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		task.UpdatedAt = task.CreatedAt
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task %s: %v", task.ID, err)
	}
}

func mustNote(t *testing.T, s *SQLite, note domain.Note) {
	t.Helper()
	if err := s.CreateNote(context.Background(), note); err != nil {
		t.Fatalf("create note %s: %v", note.ID, err)
	}
}

func TestSQLiteTaskRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	due := time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	want := domain.Task{
		ID:         "t1",
		OwnerID:    "mom",
		AssigneeID: "kid",
		Title:      "Mow the lawn",
		Notes:      "front and back",
		Status:     domain.StatusDoing,
		WorkflowID: "wf",
		Stage:      "doing",
		DueAt:      &due,
		Order:      3,
		Shared:     true,
		LabelIDs:   []string{"garden", "chores"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.CreateTask(ctx, want); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected task:\n got %#v\nwant %#v", got, want)
	}

	if err := s.CreateTask(ctx, want); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	want.LabelIDs = []string{"chores"}
	want.DueAt = nil
	want.Title = "Mow the lawn again"
	if err := s.UpdateTask(ctx, want); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Title != want.Title || got.DueAt != nil || !reflect.DeepEqual(got.LabelIDs, []string{"chores"}) {
		t.Fatalf("update not applied: %#v", got)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteTask(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := s.UpdateTask(ctx, want); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on update of missing task, got %v", err)
	}
}

func TestSQLiteListTasksQuery(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	day := func(d int) *time.Time {
		v := time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC)
		return &v
	}
	mustTask(t, s, domain.Task{ID: "a", OwnerID: "u", Title: "Buy milk", DueAt: day(1), Order: 2, LabelIDs: []string{"shopping"}})
	mustTask(t, s, domain.Task{ID: "b", OwnerID: "u", Title: "Dishes", Notes: "50% done_ish", Status: domain.StatusDone, DueAt: day(5), Order: 1, AssigneeID: "kid"})
	mustTask(t, s, domain.Task{ID: "c", OwnerID: "u", Title: "Call grandma", WorkflowID: "wf"})

	tests := []struct {
		name  string
		query domain.TaskQuery
		want  []string
	}{
		{name: "all ordered", query: domain.TaskQuery{}, want: []string{"c", "b", "a"}},
		{name: "status", query: domain.TaskQuery{Status: domain.StatusDone}, want: []string{"b"}},
		{name: "label", query: domain.TaskQuery{LabelID: "shopping"}, want: []string{"a"}},
		{name: "assignee", query: domain.TaskQuery{AssigneeID: "kid"}, want: []string{"b"}},
		{name: "workflow", query: domain.TaskQuery{WorkflowID: "wf"}, want: []string{"c"}},
		{name: "due range", query: domain.TaskQuery{DueFrom: day(2), DueTo: day(9)}, want: []string{"b"}},
		{name: "due from excludes undated", query: domain.TaskQuery{DueFrom: day(1)}, want: []string{"b", "a"}},
		{name: "text case insensitive", query: domain.TaskQuery{Text: "MILK"}, want: []string{"a"}},
		{name: "text wildcard escaped", query: domain.TaskQuery{Text: "50%"}, want: []string{"b"}},
		{name: "underscore literal", query: domain.TaskQuery{Text: "e_i"}, want: []string{"b"}},
		{name: "no match", query: domain.TaskQuery{Text: "vacuum"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := s.ListTasks(ctx, tt.query)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			ids := []string{}
			for _, task := range tasks {
				ids = append(ids, task.ID)
				if !tt.query.Matches(task) {
					t.Fatalf("task %s returned but does not match query in memory", task.ID)
				}
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Fatalf("ListTasks() = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestSQLiteSetLabelSharedCascades(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	if err := s.CreateLabel(ctx, domain.Label{ID: "L", OwnerID: "mom", Name: "Chores", Shared: true}); err != nil {
		t.Fatalf("create label: %v", err)
	}
	mustTask(t, s, domain.Task{ID: "t1", OwnerID: "mom", Title: "one", Shared: true, LabelIDs: []string{"L"}})
	mustTask(t, s, domain.Task{ID: "t2", OwnerID: "dad", Title: "two", Shared: true, LabelIDs: []string{"other", "L"}})
	mustTask(t, s, domain.Task{ID: "t3", OwnerID: "dad", Title: "untouched", Shared: true})
	mustNote(t, s, domain.Note{ID: "n1", OwnerID: "mom", Title: "note", Shared: true, LabelIDs: []string{"L"}})

	res, err := s.SetLabelShared(ctx, "L", false)
	if err != nil {
		t.Fatalf("cascade off: %v", err)
	}
	if res.Label.Shared || res.Label.ID != "L" {
		t.Fatalf("unexpected label in result: %#v", res.Label)
	}
	if !reflect.DeepEqual(res.TaskIDs, []string{"t1", "t2"}) || !reflect.DeepEqual(res.NoteIDs, []string{"n1"}) {
		t.Fatalf("unexpected cascade result: %#v", res)
	}
	for _, id := range []string{"t1", "t2"} {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if task.Shared {
			t.Fatalf("task %s still shared after label went private", id)
		}
	}
	if task, _ := s.GetTask(ctx, "t3"); !task.Shared {
		t.Fatalf("task without the label must keep its flag")
	}
	if note, _ := s.GetNote(ctx, "n1"); note.Shared {
		t.Fatalf("note still shared after label went private")
	}

	if _, err := s.SetLabelShared(ctx, "L", true); err != nil {
		t.Fatalf("cascade on: %v", err)
	}
	tasks, err := s.ListTasks(ctx, domain.TaskQuery{LabelID: "L"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, task := range tasks {
		if !task.Shared {
			t.Fatalf("task %s not shared after label went public", task.ID)
		}
	}
	if note, _ := s.GetNote(ctx, "n1"); !note.Shared {
		t.Fatalf("note not shared after label went public")
	}
}

func TestSQLiteSetLabelSharedMissingLabel(t *testing.T) {
	s := newTestSQLite(t)
	mustTask(t, s, domain.Task{ID: "t1", OwnerID: "mom", Title: "one", Shared: true, LabelIDs: []string{"ghost"}})

	if _, err := s.SetLabelShared(context.Background(), "ghost", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task, err := s.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !task.Shared {
		t.Fatalf("task changed although the toggle failed")
	}
}

func TestSQLiteUpdateLabelKeepsSharedFlag(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	if err := s.CreateLabel(ctx, domain.Label{ID: "L", OwnerID: "mom", Name: "Chores", Shared: false}); err != nil {
		t.Fatalf("create label: %v", err)
	}
	if err := s.UpdateLabel(ctx, domain.Label{ID: "L", Name: "House", Color: "#fff", Shared: true}); err != nil {
		t.Fatalf("update label: %v", err)
	}
	l, err := s.GetLabel(ctx, "L")
	if err != nil {
		t.Fatalf("get label: %v", err)
	}
	if l.Name != "House" || l.Color != "#fff" || l.Shared {
		t.Fatalf("unexpected label %#v", l)
	}
}

func TestSQLiteUsersAndFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, domain.User{ID: "mom", Name: "Mom", Role: domain.RoleAdmin, CreatedAt: time.Unix(1, 0)}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "kid", Name: "Kid", Role: domain.RoleRestricted, CreatedAt: time.Unix(2, 0)}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 2 || users[0].ID != "mom" {
		t.Fatalf("unexpected users %v err=%v", users, err)
	}
	u, err := s.UpdateUserRole(ctx, "kid", domain.RoleAdmin)
	if err != nil || !u.IsAdmin() {
		t.Fatalf("role not updated: %#v err=%v", u, err)
	}
	if _, err := s.UpdateUserRole(ctx, "nobody", domain.RoleAdmin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	f := domain.SavedFilter{ID: "f1", OwnerID: "mom", Name: "Kid chores", Query: domain.TaskQuery{AssigneeID: "kid", LabelID: "L"}}
	if err := s.CreateFilter(ctx, f); err != nil {
		t.Fatalf("create filter: %v", err)
	}
	got, err := s.GetFilter(ctx, "f1")
	if err != nil || !reflect.DeepEqual(got, f) {
		t.Fatalf("unexpected filter %#v err=%v", got, err)
	}
	mine, _ := s.ListFilters(ctx, "mom")
	theirs, _ := s.ListFilters(ctx, "kid")
	if len(mine) != 1 || len(theirs) != 0 {
		t.Fatalf("filters must be listed per owner: mine=%v theirs=%v", mine, theirs)
	}
}

func TestSQLiteWorkflows(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	wf := domain.Workflow{ID: "wf", OwnerID: "mom", Name: "Chores", Stages: []string{"todo", "doing", "done"}, Shared: true}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetWorkflow(ctx, "wf")
	if err != nil || !reflect.DeepEqual(got, wf) {
		t.Fatalf("unexpected workflow %#v err=%v", got, err)
	}
	wf.Stages = nil
	if err := s.UpdateWorkflow(ctx, wf); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetWorkflow(ctx, "wf")
	if got.Stages == nil || len(got.Stages) != 0 {
		t.Fatalf("expected empty non-nil stages, got %#v", got.Stages)
	}
	if err := s.DeleteWorkflow(ctx, "wf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetWorkflow(ctx, "wf"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteNotesOrdering(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mustNote(t, s, domain.Note{ID: "old", OwnerID: "u", Title: "old", UpdatedAt: base, CreatedAt: base})
	mustNote(t, s, domain.Note{ID: "new", OwnerID: "u", Title: "new", UpdatedAt: base.Add(time.Hour), CreatedAt: base})
	mustNote(t, s, domain.Note{ID: "pin", OwnerID: "u", Title: "pin", Pinned: true, UpdatedAt: base, CreatedAt: base, LabelIDs: []string{"x"}})

	notes, err := s.ListNotes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, n := range notes {
		ids = append(ids, n.ID)
	}
	if !reflect.DeepEqual(ids, []string{"pin", "new", "old"}) {
		t.Fatalf("unexpected order %v", ids)
	}
	if !reflect.DeepEqual(notes[0].LabelIDs, []string{"x"}) || notes[1].LabelIDs == nil {
		t.Fatalf("unexpected labels %#v / %#v", notes[0].LabelIDs, notes[1].LabelIDs)
	}
}
