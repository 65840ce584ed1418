package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todoless/domain"
)

// householdPartition holds every row; a household is small enough that one
// partition per table keeps scans and cascades simple.
const householdPartition = "household"

// Tables is the Azure Table Storage backend. Label ids are kept as a JSON
// array column, so a privacy cascade scans the partition and has no rollback.
type Tables struct {
	service   *aztables.ServiceClient
	names     TableNames
	users     *aztables.Client
	tasks     *aztables.Client
	notes     *aztables.Client
	labels    *aztables.Client
	workflows *aztables.Client
	filters   *aztables.Client
	now       func() time.Time
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables creates the table backend from a storage connection string.
func NewTables(connStr string, names TableNames) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{
		service:   svc,
		names:     names,
		users:     svc.NewClient(names.Users),
		tasks:     svc.NewClient(names.Tasks),
		notes:     svc.NewClient(names.Notes),
		labels:    svc.NewClient(names.Labels),
		workflows: svc.NewClient(names.Workflows),
		filters:   svc.NewClient(names.Filters),
		now:       time.Now,
	}, nil
}

// Ping lists a single table to check connectivity.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.service.NewListTablesPager(&aztables.ListTablesOptions{Top: &top})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return err
	}
	return nil
}

func (s *Tables) Close() error { return nil }

// CreateTables creates every configured table, ignoring ones that exist.
func (s *Tables) CreateTables(ctx context.Context) error {
	for _, name := range s.names.All() {
		if name == "" {
			continue
		}
		if _, err := s.service.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
				continue
			}
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func mapTableErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isStatus(err, http.StatusNotFound):
		return domain.ErrNotFound
	case isStatus(err, http.StatusConflict), isStatus(err, http.StatusPreconditionFailed):
		return errors.Join(domain.ErrConcurrencyConflict, err)
	default:
		return err
	}
}

func escapeFilter(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func getRow[T any](ctx context.Context, c *aztables.Client, id string) (T, error) {
	var ent T
	resp, err := c.GetEntity(ctx, householdPartition, id, nil)
	if err != nil {
		return ent, mapTableErr(err)
	}
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return ent, err
	}
	return ent, nil
}

func listRows[T any](ctx context.Context, c *aztables.Client, filter string) ([]T, error) {
	f := "PartitionKey eq '" + householdPartition + "'"
	if filter != "" {
		f += " and " + filter
	}
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &f})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent T
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func addRow(ctx context.Context, c *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = c.AddEntity(ctx, payload, nil)
	}
	return mapTableErr(err)
}

// updateRow writes ent onto an existing row; a missing row is ErrNotFound.
func updateRow(ctx context.Context, c *aztables.Client, ent any, mode aztables.UpdateMode) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = c.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: mode})
	}
	return mapTableErr(err)
}

func deleteRow(ctx context.Context, c *aztables.Client, id string) error {
	_, err := c.DeleteEntity(ctx, householdPartition, id, nil)
	return mapTableErr(err)
}

func rowKey(id string) aztables.Entity {
	return aztables.Entity{PartitionKey: householdPartition, RowKey: id}
}

// Users

type userEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Email     string `json:"Email"`
	Role      string `json:"Role"`
	CreatedAt string `json:"CreatedAt"`
}

func (e userEntity) toDomain() domain.User {
	return domain.User{ID: e.RowKey, Name: e.Name, Email: e.Email, Role: domain.Role(e.Role), CreatedAt: parseTime(e.CreatedAt)}
}

func (s *Tables) CreateUser(ctx context.Context, u domain.User) error {
	return addRow(ctx, s.users, userEntity{Entity: rowKey(u.ID), Name: u.Name, Email: u.Email, Role: string(u.Role), CreatedAt: formatTime(u.CreatedAt)})
}

func (s *Tables) GetUser(ctx context.Context, id string) (domain.User, error) {
	ent, err := getRow[userEntity](ctx, s.users, id)
	if err != nil {
		return domain.User{}, err
	}
	return ent.toDomain(), nil
}

func (s *Tables) ListUsers(ctx context.Context) ([]domain.User, error) {
	ents, err := listRows[userEntity](ctx, s.users, "")
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(ents))
	for _, e := range ents {
		users = append(users, e.toDomain())
	}
	return users, nil
}

func (s *Tables) UpdateUserRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	update := struct {
		aztables.Entity
		Role string `json:"Role"`
	}{Entity: rowKey(id), Role: string(role)}
	if err := updateRow(ctx, s.users, update, aztables.UpdateModeMerge); err != nil {
		return domain.User{}, err
	}
	return s.GetUser(ctx, id)
}

// Tasks

type taskEntity struct {
	aztables.Entity
	OwnerID    string  `json:"OwnerID"`
	AssigneeID string  `json:"AssigneeID"`
	Title      string  `json:"Title"`
	Notes      string  `json:"Notes"`
	Status     string  `json:"Status"`
	WorkflowID string  `json:"WorkflowID"`
	Stage      string  `json:"Stage"`
	DueAt      *string `json:"DueAt,omitempty"`
	Order      int     `json:"Order"`
	Shared     bool    `json:"Shared"`
	LabelIDs   string  `json:"LabelIDs"`
	CreatedAt  string  `json:"CreatedAt"`
	UpdatedAt  string  `json:"UpdatedAt"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:     rowKey(t.ID),
		OwnerID:    t.OwnerID,
		AssigneeID: t.AssigneeID,
		Title:      t.Title,
		Notes:      t.Notes,
		Status:     string(t.Status),
		WorkflowID: t.WorkflowID,
		Stage:      t.Stage,
		DueAt:      formatOptionalTime(t.DueAt),
		Order:      t.Order,
		Shared:     t.Shared,
		LabelIDs:   domain.FormatLabelIDs(t.LabelIDs),
		CreatedAt:  formatTime(t.CreatedAt),
		UpdatedAt:  formatTime(t.UpdatedAt),
	}
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:         e.RowKey,
		OwnerID:    e.OwnerID,
		AssigneeID: e.AssigneeID,
		Title:      e.Title,
		Notes:      e.Notes,
		Status:     domain.TaskStatus(e.Status),
		WorkflowID: e.WorkflowID,
		Stage:      e.Stage,
		DueAt:      parseOptionalTime(e.DueAt),
		Order:      e.Order,
		Shared:     e.Shared,
		LabelIDs:   domain.ParseLabelIDs(e.LabelIDs),
		CreatedAt:  parseTime(e.CreatedAt),
		UpdatedAt:  parseTime(e.UpdatedAt),
	}
}

func (s *Tables) CreateTask(ctx context.Context, t domain.Task) error {
	return addRow(ctx, s.tasks, newTaskEntity(t))
}

func (s *Tables) GetTask(ctx context.Context, id string) (domain.Task, error) {
	ent, err := getRow[taskEntity](ctx, s.tasks, id)
	if err != nil {
		return domain.Task{}, err
	}
	return ent.toDomain(), nil
}

// ListTasks pushes equality filters to the service and applies the rest of q
// in memory.
func (s *Tables) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, error) {
	var clauses []string
	if q.Status != "" {
		clauses = append(clauses, "Status eq '"+escapeFilter(string(q.Status))+"'")
	}
	if q.AssigneeID != "" {
		clauses = append(clauses, "AssigneeID eq '"+escapeFilter(q.AssigneeID)+"'")
	}
	if q.WorkflowID != "" {
		clauses = append(clauses, "WorkflowID eq '"+escapeFilter(q.WorkflowID)+"'")
	}
	ents, err := listRows[taskEntity](ctx, s.tasks, strings.Join(clauses, " and "))
	if err != nil {
		return nil, err
	}
	tasks := []domain.Task{}
	for _, e := range ents {
		t := e.toDomain()
		if q.Matches(t) {
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *Tables) UpdateTask(ctx context.Context, t domain.Task) error {
	return updateRow(ctx, s.tasks, newTaskEntity(t), aztables.UpdateModeReplace)
}

func (s *Tables) DeleteTask(ctx context.Context, id string) error {
	return deleteRow(ctx, s.tasks, id)
}

// Notes

type noteEntity struct {
	aztables.Entity
	OwnerID   string `json:"OwnerID"`
	Title     string `json:"Title"`
	Body      string `json:"Body"`
	Pinned    bool   `json:"Pinned"`
	Shared    bool   `json:"Shared"`
	LabelIDs  string `json:"LabelIDs"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

func newNoteEntity(n domain.Note) noteEntity {
	return noteEntity{
		Entity:    rowKey(n.ID),
		OwnerID:   n.OwnerID,
		Title:     n.Title,
		Body:      n.Body,
		Pinned:    n.Pinned,
		Shared:    n.Shared,
		LabelIDs:  domain.FormatLabelIDs(n.LabelIDs),
		CreatedAt: formatTime(n.CreatedAt),
		UpdatedAt: formatTime(n.UpdatedAt),
	}
}

func (e noteEntity) toDomain() domain.Note {
	return domain.Note{
		ID:        e.RowKey,
		OwnerID:   e.OwnerID,
		Title:     e.Title,
		Body:      e.Body,
		Pinned:    e.Pinned,
		Shared:    e.Shared,
		LabelIDs:  domain.ParseLabelIDs(e.LabelIDs),
		CreatedAt: parseTime(e.CreatedAt),
		UpdatedAt: parseTime(e.UpdatedAt),
	}
}

func (s *Tables) CreateNote(ctx context.Context, n domain.Note) error {
	return addRow(ctx, s.notes, newNoteEntity(n))
}

func (s *Tables) GetNote(ctx context.Context, id string) (domain.Note, error) {
	ent, err := getRow[noteEntity](ctx, s.notes, id)
	if err != nil {
		return domain.Note{}, err
	}
	return ent.toDomain(), nil
}

func (s *Tables) ListNotes(ctx context.Context) ([]domain.Note, error) {
	ents, err := listRows[noteEntity](ctx, s.notes, "")
	if err != nil {
		return nil, err
	}
	notes := make([]domain.Note, 0, len(ents))
	for _, e := range ents {
		notes = append(notes, e.toDomain())
	}
	sortNotes(notes)
	return notes, nil
}

func (s *Tables) UpdateNote(ctx context.Context, n domain.Note) error {
	return updateRow(ctx, s.notes, newNoteEntity(n), aztables.UpdateModeReplace)
}

func (s *Tables) DeleteNote(ctx context.Context, id string) error {
	return deleteRow(ctx, s.notes, id)
}

// Labels

type labelEntity struct {
	aztables.Entity
	OwnerID string `json:"OwnerID"`
	Name    string `json:"Name"`
	Color   string `json:"Color"`
	Shared  bool   `json:"Shared"`
}

func (e labelEntity) toDomain() domain.Label {
	return domain.Label{ID: e.RowKey, OwnerID: e.OwnerID, Name: e.Name, Color: e.Color, Shared: e.Shared}
}

func (s *Tables) CreateLabel(ctx context.Context, l domain.Label) error {
	return addRow(ctx, s.labels, labelEntity{Entity: rowKey(l.ID), OwnerID: l.OwnerID, Name: l.Name, Color: l.Color, Shared: l.Shared})
}

func (s *Tables) GetLabel(ctx context.Context, id string) (domain.Label, error) {
	ent, err := getRow[labelEntity](ctx, s.labels, id)
	if err != nil {
		return domain.Label{}, err
	}
	return ent.toDomain(), nil
}

func (s *Tables) ListLabels(ctx context.Context) ([]domain.Label, error) {
	ents, err := listRows[labelEntity](ctx, s.labels, "")
	if err != nil {
		return nil, err
	}
	labels := make([]domain.Label, 0, len(ents))
	for _, e := range ents {
		labels = append(labels, e.toDomain())
	}
	return labels, nil
}

func (s *Tables) UpdateLabel(ctx context.Context, l domain.Label) error {
	update := struct {
		aztables.Entity
		Name  string `json:"Name"`
		Color string `json:"Color"`
	}{Entity: rowKey(l.ID), Name: l.Name, Color: l.Color}
	return updateRow(ctx, s.labels, update, aztables.UpdateModeMerge)
}

func (s *Tables) DeleteLabel(ctx context.Context, id string) error {
	return deleteRow(ctx, s.labels, id)
}

type sharedUpdate struct {
	aztables.Entity
	Shared    bool   `json:"Shared"`
	UpdatedAt string `json:"UpdatedAt,omitempty"`
}

// SetLabelShared updates the label, then every task and then every note that
// carries it. Rows already written stay written if a later step fails.
func (s *Tables) SetLabelShared(ctx context.Context, id string, shared bool) (domain.CascadeResult, error) {
	if err := updateRow(ctx, s.labels, sharedUpdate{Entity: rowKey(id), Shared: shared}, aztables.UpdateModeMerge); err != nil {
		return domain.CascadeResult{}, err
	}
	label, err := s.GetLabel(ctx, id)
	if err != nil {
		return domain.CascadeResult{}, err
	}
	result := domain.CascadeResult{Label: label, TaskIDs: []string{}, NoteIDs: []string{}}
	now := formatTime(s.now())

	tasks, err := listRows[taskEntity](ctx, s.tasks, "")
	if err != nil {
		return result, fmt.Errorf("cascade tasks: %w", err)
	}
	for _, e := range tasks {
		if !(domain.Visibility{LabelIDs: domain.ParseLabelIDs(e.LabelIDs)}).HasLabel(id) {
			continue
		}
		if err := updateRow(ctx, s.tasks, sharedUpdate{Entity: rowKey(e.RowKey), Shared: shared, UpdatedAt: now}, aztables.UpdateModeMerge); err != nil {
			return result, fmt.Errorf("cascade task %s: %w", e.RowKey, err)
		}
		result.TaskIDs = append(result.TaskIDs, e.RowKey)
	}

	notes, err := listRows[noteEntity](ctx, s.notes, "")
	if err != nil {
		return result, fmt.Errorf("cascade notes: %w", err)
	}
	for _, e := range notes {
		if !(domain.Visibility{LabelIDs: domain.ParseLabelIDs(e.LabelIDs)}).HasLabel(id) {
			continue
		}
		if err := updateRow(ctx, s.notes, sharedUpdate{Entity: rowKey(e.RowKey), Shared: shared, UpdatedAt: now}, aztables.UpdateModeMerge); err != nil {
			return result, fmt.Errorf("cascade note %s: %w", e.RowKey, err)
		}
		result.NoteIDs = append(result.NoteIDs, e.RowKey)
	}
	return result, nil
}

// Workflows

type workflowEntity struct {
	aztables.Entity
	OwnerID string `json:"OwnerID"`
	Name    string `json:"Name"`
	Stages  string `json:"Stages"`
	Shared  bool   `json:"Shared"`
}

func newWorkflowEntity(w domain.Workflow) (workflowEntity, error) {
	stages, err := json.Marshal(stagesOrEmpty(w.Stages))
	if err != nil {
		return workflowEntity{}, err
	}
	return workflowEntity{Entity: rowKey(w.ID), OwnerID: w.OwnerID, Name: w.Name, Stages: string(stages), Shared: w.Shared}, nil
}

func (e workflowEntity) toDomain() domain.Workflow {
	return domain.Workflow{ID: e.RowKey, OwnerID: e.OwnerID, Name: e.Name, Stages: decodeStages(e.Stages), Shared: e.Shared}
}

func (s *Tables) CreateWorkflow(ctx context.Context, w domain.Workflow) error {
	ent, err := newWorkflowEntity(w)
	if err != nil {
		return err
	}
	return addRow(ctx, s.workflows, ent)
}

func (s *Tables) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	ent, err := getRow[workflowEntity](ctx, s.workflows, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	return ent.toDomain(), nil
}

func (s *Tables) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	ents, err := listRows[workflowEntity](ctx, s.workflows, "")
	if err != nil {
		return nil, err
	}
	workflows := make([]domain.Workflow, 0, len(ents))
	for _, e := range ents {
		workflows = append(workflows, e.toDomain())
	}
	return workflows, nil
}

func (s *Tables) UpdateWorkflow(ctx context.Context, w domain.Workflow) error {
	ent, err := newWorkflowEntity(w)
	if err != nil {
		return err
	}
	return updateRow(ctx, s.workflows, ent, aztables.UpdateModeReplace)
}

func (s *Tables) DeleteWorkflow(ctx context.Context, id string) error {
	return deleteRow(ctx, s.workflows, id)
}

// Saved filters

type filterEntity struct {
	aztables.Entity
	OwnerID string `json:"OwnerID"`
	Name    string `json:"Name"`
	Query   string `json:"Query"`
}

func newFilterEntity(f domain.SavedFilter) (filterEntity, error) {
	query, err := json.Marshal(f.Query)
	if err != nil {
		return filterEntity{}, err
	}
	return filterEntity{Entity: rowKey(f.ID), OwnerID: f.OwnerID, Name: f.Name, Query: string(query)}, nil
}

func (e filterEntity) toDomain() domain.SavedFilter {
	f := domain.SavedFilter{ID: e.RowKey, OwnerID: e.OwnerID, Name: e.Name}
	if err := json.Unmarshal([]byte(e.Query), &f.Query); err != nil {
		f.Query = domain.TaskQuery{}
	}
	return f
}

func (s *Tables) CreateFilter(ctx context.Context, f domain.SavedFilter) error {
	ent, err := newFilterEntity(f)
	if err != nil {
		return err
	}
	return addRow(ctx, s.filters, ent)
}

func (s *Tables) GetFilter(ctx context.Context, id string) (domain.SavedFilter, error) {
	ent, err := getRow[filterEntity](ctx, s.filters, id)
	if err != nil {
		return domain.SavedFilter{}, err
	}
	return ent.toDomain(), nil
}

func (s *Tables) ListFilters(ctx context.Context, ownerID string) ([]domain.SavedFilter, error) {
	ents, err := listRows[filterEntity](ctx, s.filters, "OwnerID eq '"+escapeFilter(ownerID)+"'")
	if err != nil {
		return nil, err
	}
	filters := make([]domain.SavedFilter, 0, len(ents))
	for _, e := range ents {
		filters = append(filters, e.toDomain())
	}
	return filters, nil
}

func (s *Tables) UpdateFilter(ctx context.Context, f domain.SavedFilter) error {
	ent, err := newFilterEntity(f)
	if err != nil {
		return err
	}
	return updateRow(ctx, s.filters, ent, aztables.UpdateModeReplace)
}

func (s *Tables) DeleteFilter(ctx context.Context, id string) error {
	return deleteRow(ctx, s.filters, id)
}
