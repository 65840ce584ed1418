package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"todoless/domain"
)

//go:embed schema.sql
var schema string

// SQLite is the relational backend. Label membership lives in join tables so
// a privacy cascade is a pair of indexed updates inside one transaction.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens (creating if needed) the database at path and applies the
// schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across pooled connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, now: time.Now}
	if err := s.applySchema(ctx, path != ":memory:"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewInMemory returns an empty private database, used by tests.
func NewInMemory() (*SQLite, error) {
	return NewSQLite(context.Background(), ":memory:")
}

func (s *SQLite) applySchema(ctx context.Context, wal bool) error {
	pragmas := []string{"PRAGMA busy_timeout=5000;"}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func conflictOnDuplicate(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}

// Users

func (s *SQLite) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), formatTime(u.CreatedAt))
	return conflictOnDuplicate(err)
}

func (s *SQLite) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, email, role, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, role, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLite) UpdateUserRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return domain.User{}, err
	}
	if err := requireAffected(res); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (domain.User, error) {
	var (
		u         domain.User
		role      string
		createdAt string
	)
	if err := sc.Scan(&u.ID, &u.Name, &u.Email, &role, &createdAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// Tasks

const taskColumns = `id, owner_id, assignee_id, title, notes, status, workflow_id, stage, due_at, ord, shared, created_at, updated_at`

func (s *SQLite) CreateTask(ctx context.Context, t domain.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.OwnerID, t.AssigneeID, t.Title, t.Notes, string(t.Status), t.WorkflowID, t.Stage,
			formatOptionalTime(t.DueAt), t.Order, t.Shared, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return conflictOnDuplicate(err)
		}
		return replaceLabels(ctx, tx, "task_labels", "task_id", t.ID, t.LabelIDs)
	})
}

func (s *SQLite) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, notFound(err)
	}
	labels, err := loadLabels(ctx, s.db, "task_labels", "task_id", []string{id})
	if err != nil {
		return domain.Task{}, err
	}
	t.LabelIDs = labelsFor(labels, id)
	return t, nil
}

// ListTasks pushes every set field of q down into SQL.
func (s *SQLite) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	where, args := taskWhere(q)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY ord, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	labels, err := loadLabels(ctx, s.db, "task_labels", "task_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].LabelIDs = labelsFor(labels, tasks[i].ID)
	}
	return tasks, nil
}

func taskWhere(q domain.TaskQuery) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(q.Status))
	}
	if q.LabelID != "" {
		where = append(where, `EXISTS (SELECT 1 FROM task_labels tl WHERE tl.task_id = tasks.id AND tl.label_id = ?)`)
		args = append(args, q.LabelID)
	}
	if q.AssigneeID != "" {
		where = append(where, `assignee_id = ?`)
		args = append(args, q.AssigneeID)
	}
	if q.WorkflowID != "" {
		where = append(where, `workflow_id = ?`)
		args = append(args, q.WorkflowID)
	}
	if q.DueFrom != nil {
		where = append(where, `due_at IS NOT NULL AND due_at >= ?`)
		args = append(args, formatTime(*q.DueFrom))
	}
	if q.DueTo != nil {
		where = append(where, `due_at IS NOT NULL AND due_at <= ?`)
		args = append(args, formatTime(*q.DueTo))
	}
	if q.Text != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(notes) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	return where, args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLite) UpdateTask(ctx context.Context, t domain.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET owner_id = ?, assignee_id = ?, title = ?, notes = ?, status = ?,
			workflow_id = ?, stage = ?, due_at = ?, ord = ?, shared = ?, updated_at = ? WHERE id = ?`,
			t.OwnerID, t.AssigneeID, t.Title, t.Notes, string(t.Status), t.WorkflowID, t.Stage,
			formatOptionalTime(t.DueAt), t.Order, t.Shared, formatTime(t.UpdatedAt), t.ID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return replaceLabels(ctx, tx, "task_labels", "task_id", t.ID, t.LabelIDs)
	})
}

func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = ?`, id)
		return err
	})
}

func scanTask(sc scanner) (domain.Task, error) {
	var (
		t                    domain.Task
		status               string
		dueAt                sql.NullString
		createdAt, updatedAt string
	)
	if err := sc.Scan(&t.ID, &t.OwnerID, &t.AssigneeID, &t.Title, &t.Notes, &status, &t.WorkflowID, &t.Stage,
		&dueAt, &t.Order, &t.Shared, &createdAt, &updatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.TaskStatus(status)
	if dueAt.Valid {
		t.DueAt = parseOptionalTime(&dueAt.String)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.LabelIDs = []string{}
	return t, nil
}

// Notes

const noteColumns = `id, owner_id, title, body, pinned, shared, created_at, updated_at`

func (s *SQLite) CreateNote(ctx context.Context, n domain.Note) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.OwnerID, n.Title, n.Body, n.Pinned, n.Shared, formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
		if err != nil {
			return conflictOnDuplicate(err)
		}
		return replaceLabels(ctx, tx, "note_labels", "note_id", n.ID, n.LabelIDs)
	})
}

func (s *SQLite) GetNote(ctx context.Context, id string) (domain.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err != nil {
		return domain.Note{}, notFound(err)
	}
	labels, err := loadLabels(ctx, s.db, "note_labels", "note_id", []string{id})
	if err != nil {
		return domain.Note{}, err
	}
	n.LabelIDs = labelsFor(labels, id)
	return n, nil
}

func (s *SQLite) ListNotes(ctx context.Context) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY pinned DESC, updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	notes := []domain.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	labels, err := loadLabels(ctx, s.db, "note_labels", "note_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		notes[i].LabelIDs = labelsFor(labels, notes[i].ID)
	}
	return notes, nil
}

func (s *SQLite) UpdateNote(ctx context.Context, n domain.Note) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notes SET owner_id = ?, title = ?, body = ?, pinned = ?, shared = ?, updated_at = ? WHERE id = ?`,
			n.OwnerID, n.Title, n.Body, n.Pinned, n.Shared, formatTime(n.UpdatedAt), n.ID)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return replaceLabels(ctx, tx, "note_labels", "note_id", n.ID, n.LabelIDs)
	})
}

func (s *SQLite) DeleteNote(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM note_labels WHERE note_id = ?`, id)
		return err
	})
}

func scanNote(sc scanner) (domain.Note, error) {
	var (
		n                    domain.Note
		createdAt, updatedAt string
	)
	if err := sc.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.Pinned, &n.Shared, &createdAt, &updatedAt); err != nil {
		return domain.Note{}, err
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	n.LabelIDs = []string{}
	return n, nil
}

// Label membership. table and column are package constants, never user input.

func replaceLabels(ctx context.Context, q queryer, table, column, itemID string, labelIDs []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` = ?`, itemID); err != nil {
		return err
	}
	for i, id := range domain.NormalizeLabelIDs(labelIDs) {
		if _, err := q.ExecContext(ctx, `INSERT INTO `+table+` (`+column+`, label_id, position) VALUES (?, ?, ?)`, itemID, id, i); err != nil {
			return err
		}
	}
	return nil
}

func loadLabels(ctx context.Context, q queryer, table, column string, itemIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	args := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+column+`, label_id FROM `+table+` WHERE `+column+` IN (`+placeholders+`) ORDER BY `+column+`, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID, labelID string
		if err := rows.Scan(&itemID, &labelID); err != nil {
			return nil, err
		}
		out[itemID] = append(out[itemID], labelID)
	}
	return out, rows.Err()
}

func labelsFor(m map[string][]string, id string) []string {
	if ids, ok := m[id]; ok {
		return ids
	}
	return []string{}
}

// Labels

func (s *SQLite) CreateLabel(ctx context.Context, l domain.Label) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO labels (id, owner_id, name, color, shared) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.OwnerID, l.Name, l.Color, l.Shared)
	return conflictOnDuplicate(err)
}

func (s *SQLite) GetLabel(ctx context.Context, id string) (domain.Label, error) {
	return getLabel(ctx, s.db, id)
}

func getLabel(ctx context.Context, q queryer, id string) (domain.Label, error) {
	var l domain.Label
	err := q.QueryRowContext(ctx, `SELECT id, owner_id, name, color, shared FROM labels WHERE id = ?`, id).
		Scan(&l.ID, &l.OwnerID, &l.Name, &l.Color, &l.Shared)
	if err != nil {
		return domain.Label{}, notFound(err)
	}
	return l, nil
}

func (s *SQLite) ListLabels(ctx context.Context) ([]domain.Label, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name, color, shared FROM labels ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	labels := []domain.Label{}
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Name, &l.Color, &l.Shared); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// UpdateLabel rewrites name and color. The shared flag only changes through
// SetLabelShared so the cascade cannot be bypassed.
func (s *SQLite) UpdateLabel(ctx context.Context, l domain.Label) error {
	res, err := s.db.ExecContext(ctx, `UPDATE labels SET name = ?, color = ? WHERE id = ?`, l.Name, l.Color, l.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteLabel removes the label row. Items keep the dangling id, which the
// access rules skip.
func (s *SQLite) DeleteLabel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetLabelShared updates the label and copies the flag onto every task and
// note carrying it, all in one transaction.
func (s *SQLite) SetLabelShared(ctx context.Context, id string, shared bool) (domain.CascadeResult, error) {
	var result domain.CascadeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE labels SET shared = ? WHERE id = ?`, shared, id)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		now := formatTime(s.now())

		taskIDs, err := collectIDs(ctx, tx, `SELECT task_id FROM task_labels WHERE label_id = ? ORDER BY task_id`, id)
		if err != nil {
			return fmt.Errorf("cascade tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET shared = ?, updated_at = ?
			WHERE id IN (SELECT task_id FROM task_labels WHERE label_id = ?)`, shared, now, id); err != nil {
			return fmt.Errorf("cascade tasks: %w", err)
		}

		noteIDs, err := collectIDs(ctx, tx, `SELECT note_id FROM note_labels WHERE label_id = ? ORDER BY note_id`, id)
		if err != nil {
			return fmt.Errorf("cascade notes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE notes SET shared = ?, updated_at = ?
			WHERE id IN (SELECT note_id FROM note_labels WHERE label_id = ?)`, shared, now, id); err != nil {
			return fmt.Errorf("cascade notes: %w", err)
		}

		label, err := getLabel(ctx, tx, id)
		if err != nil {
			return err
		}
		result = domain.CascadeResult{Label: label, TaskIDs: taskIDs, NoteIDs: noteIDs}
		return nil
	})
	if err != nil {
		return domain.CascadeResult{}, err
	}
	return result, nil
}

func collectIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Workflows

func (s *SQLite) CreateWorkflow(ctx context.Context, w domain.Workflow) error {
	stages, err := json.Marshal(stagesOrEmpty(w.Stages))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflows (id, owner_id, name, stages, shared) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.OwnerID, w.Name, string(stages), w.Shared)
	return conflictOnDuplicate(err)
}

func (s *SQLite) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner_id, name, stages, shared FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err != nil {
		return domain.Workflow{}, notFound(err)
	}
	return w, nil
}

func (s *SQLite) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name, stages, shared FROM workflows ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	workflows := []domain.Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (s *SQLite) UpdateWorkflow(ctx context.Context, w domain.Workflow) error {
	stages, err := json.Marshal(stagesOrEmpty(w.Stages))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET name = ?, stages = ?, shared = ? WHERE id = ?`,
		w.Name, string(stages), w.Shared, w.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanWorkflow(sc scanner) (domain.Workflow, error) {
	var (
		w      domain.Workflow
		stages string
	)
	if err := sc.Scan(&w.ID, &w.OwnerID, &w.Name, &stages, &w.Shared); err != nil {
		return domain.Workflow{}, err
	}
	w.Stages = decodeStages(stages)
	return w, nil
}

func stagesOrEmpty(stages []string) []string {
	if stages == nil {
		return []string{}
	}
	return stages
}

func decodeStages(raw string) []string {
	var stages []string
	if err := json.Unmarshal([]byte(raw), &stages); err != nil || stages == nil {
		return []string{}
	}
	return stages
}

// Saved filters

func (s *SQLite) CreateFilter(ctx context.Context, f domain.SavedFilter) error {
	query, err := json.Marshal(f.Query)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO filters (id, owner_id, name, query) VALUES (?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Name, string(query))
	return conflictOnDuplicate(err)
}

func (s *SQLite) GetFilter(ctx context.Context, id string) (domain.SavedFilter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner_id, name, query FROM filters WHERE id = ?`, id)
	f, err := scanFilter(row)
	if err != nil {
		return domain.SavedFilter{}, notFound(err)
	}
	return f, nil
}

func (s *SQLite) ListFilters(ctx context.Context, ownerID string) ([]domain.SavedFilter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, name, query FROM filters WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	filters := []domain.SavedFilter{}
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func (s *SQLite) UpdateFilter(ctx context.Context, f domain.SavedFilter) error {
	query, err := json.Marshal(f.Query)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE filters SET name = ?, query = ? WHERE id = ?`, f.Name, string(query), f.ID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLite) DeleteFilter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanFilter(sc scanner) (domain.SavedFilter, error) {
	var (
		f     domain.SavedFilter
		query string
	)
	if err := sc.Scan(&f.ID, &f.OwnerID, &f.Name, &query); err != nil {
		return domain.SavedFilter{}, err
	}
	if err := json.Unmarshal([]byte(query), &f.Query); err != nil {
		f.Query = domain.TaskQuery{}
	}
	return f, nil
}
