package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"todoless/access"
	"todoless/domain"
)

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// canViewTask extends the general rule: the assignee always sees the task.
func canViewTask(p domain.User, t domain.Task, labels access.LabelIndex) bool {
	return access.IsAccessible(t.Visibility(), p.ID, labels) || (t.AssigneeID != "" && t.AssigneeID == p.ID)
}

func (s *server) listTasks(c echo.Context) error {
	q, err := taskQueryFromRequest(c)
	if err != nil {
		return s.fail(c, "query", err)
	}
	return s.respondTasks(c, q)
}

func (s *server) respondTasks(c echo.Context, q domain.TaskQuery) error {
	p := principalFrom(c)
	labels, err := s.labelIndex(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	tasks, err := timeStore(c, func() ([]domain.Task, error) {
		return s.store.ListTasks(c.Request().Context(), q)
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	visible := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if canViewTask(p, t, labels) {
			visible = append(visible, t)
		}
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(visible))
	}
	return c.JSON(http.StatusOK, tasksResponse{Tasks: visible})
}

func taskQueryFromRequest(c echo.Context) (domain.TaskQuery, error) {
	q := domain.TaskQuery{
		Status:     domain.TaskStatus(strings.TrimSpace(c.QueryParam("status"))),
		LabelID:    strings.TrimSpace(c.QueryParam("labelId")),
		AssigneeID: strings.TrimSpace(c.QueryParam("assigneeId")),
		WorkflowID: strings.TrimSpace(c.QueryParam("workflowId")),
		Text:       strings.TrimSpace(c.QueryParam("q")),
	}
	switch q.Status {
	case "", domain.StatusTodo, domain.StatusDoing, domain.StatusDone:
	default:
		return q, fmt.Errorf("%w: unknown status %q", domain.ErrInvalid, q.Status)
	}
	var err error
	if q.DueFrom, err = parseQueryTime(c.QueryParam("dueFrom"), false); err != nil {
		return q, err
	}
	if q.DueTo, err = parseQueryTime(c.QueryParam("dueTo"), true); err != nil {
		return q, err
	}
	if q.DueFrom != nil && q.DueTo != nil && q.DueTo.Before(*q.DueFrom) {
		return q, fmt.Errorf("%w: dueTo before dueFrom", domain.ErrInvalid)
	}
	return q, nil
}

// parseQueryTime accepts RFC 3339 timestamps or plain dates. A plain date used
// as an upper bound covers the whole day.
func parseQueryTime(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time %q", domain.ErrInvalid, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (s *server) getTask(c echo.Context) error {
	t, labels, err := s.loadTask(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !canViewTask(principalFrom(c), t, labels) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *server) loadTask(c echo.Context) (domain.Task, access.Labels, error) {
	labels, err := s.labelIndex(c)
	if err != nil {
		return domain.Task{}, nil, err
	}
	t, err := timeStore(c, func() (domain.Task, error) {
		return s.store.GetTask(c.Request().Context(), c.Param("id"))
	})
	return t, labels, err
}

func (s *server) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	p := principalFrom(c)
	var req createTaskRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}

	key := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
	if key != "" {
		added, err := s.deduper.Add(ctx, p.ID, key)
		if err != nil {
			return s.fail(c, "idempotency", err)
		}
		if !added {
			return s.fail(c, "idempotency", fmt.Errorf("%w: duplicate request", domain.ErrConcurrencyConflict))
		}
	}

	task, err := s.buildTask(c, p, req)
	if err == nil {
		_, err = timeStore(c, func() (struct{}, error) {
			return struct{}{}, s.store.CreateTask(ctx, task)
		})
	}
	if err != nil {
		if key != "" {
			if rerr := s.deduper.Remove(ctx, p.ID, key); rerr != nil {
				s.logger.WithError(rerr).Warn("release idempotency key")
			}
		}
		return s.fail(c, "create", err)
	}

	s.notifyCreated(c, domain.KindTask, task.Visibility(), task, task.AssigneeID)
	return c.JSON(http.StatusCreated, task)
}

func (s *server) buildTask(c echo.Context, p domain.User, req createTaskRequest) (domain.Task, error) {
	now := s.timestamp()
	task := domain.Task{
		ID:         s.newID(),
		OwnerID:    p.ID,
		AssigneeID: strings.TrimSpace(req.AssigneeID),
		Title:      strings.TrimSpace(req.Title),
		Notes:      req.Notes,
		Status:     req.Status,
		WorkflowID: strings.TrimSpace(req.WorkflowID),
		DueAt:      utcPtr(req.DueAt),
		Order:      req.Order,
		Shared:     boolOr(req.Shared, true),
		LabelIDs:   domain.NormalizeLabelIDs(req.LabelIDs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if err := s.checkAssignee(c.Request().Context(), task.AssigneeID); err != nil {
		return task, err
	}
	stage, err := s.resolveStage(c.Request().Context(), p, task.WorkflowID, strings.TrimSpace(req.Stage))
	if err != nil {
		return task, err
	}
	task.Stage = stage
	return task, nil
}

func (s *server) updateTask(c echo.Context) error {
	ctx := c.Request().Context()
	p := principalFrom(c)
	var req updateTaskRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	existing, labels, err := s.loadTask(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !canViewTask(p, existing, labels) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	if err := access.Require(access.CanMutate(p, existing.Visibility(), existing.AssigneeID, labels)); err != nil {
		return s.fail(c, "access", err)
	}
	if req.Shared != nil && *req.Shared != existing.Shared {
		if err := access.Require(access.CanMutateSharedFlag(existing.Visibility(), p.ID)); err != nil {
			return s.fail(c, "access", err)
		}
	}

	updated, err := s.applyTaskUpdate(ctx, p, existing, req)
	if err != nil {
		return s.fail(c, "validate", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.UpdateTask(ctx, updated)
	}); err != nil {
		return s.fail(c, "update", err)
	}

	s.notifyUpdated(c, domain.KindTask, updated.ID, existing.Visibility(), updated.Visibility(),
		[]string{existing.AssigneeID}, []string{updated.AssigneeID}, updated)
	return c.JSON(http.StatusOK, updated)
}

func (s *server) applyTaskUpdate(ctx context.Context, p domain.User, t domain.Task, req updateTaskRequest) (domain.Task, error) {
	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
		if t.Title == "" {
			return t, fmt.Errorf("%w: title failed required", domain.ErrInvalid)
		}
	}
	if req.Notes != nil {
		t.Notes = *req.Notes
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.Order != nil {
		t.Order = *req.Order
	}
	if req.Shared != nil {
		t.Shared = *req.Shared
	}
	if req.LabelIDs != nil {
		t.LabelIDs = domain.NormalizeLabelIDs(*req.LabelIDs)
	}
	if req.DueAt != nil {
		due, err := parseBodyTime(*req.DueAt)
		if err != nil {
			return t, err
		}
		t.DueAt = due
	}
	if req.AssigneeID != nil {
		assignee := strings.TrimSpace(*req.AssigneeID)
		if assignee != t.AssigneeID {
			if err := s.checkAssignee(ctx, assignee); err != nil {
				return t, err
			}
		}
		t.AssigneeID = assignee
	}
	if req.WorkflowID != nil || req.Stage != nil {
		workflowID, stage := t.WorkflowID, t.Stage
		if req.WorkflowID != nil {
			workflowID = strings.TrimSpace(*req.WorkflowID)
			if workflowID != t.WorkflowID {
				stage = ""
			}
		}
		if req.Stage != nil {
			stage = strings.TrimSpace(*req.Stage)
		}
		resolved, err := s.resolveStage(ctx, p, workflowID, stage)
		if err != nil {
			return t, err
		}
		t.WorkflowID, t.Stage = workflowID, resolved
	}
	t.UpdatedAt = s.timestamp()
	return t, nil
}

func (s *server) deleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	p := principalFrom(c)
	existing, labels, err := s.loadTask(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanDelete(p, existing.Visibility(), labels)); err != nil {
		return s.fail(c, "access", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteTask(ctx, existing.ID)
	}); err != nil {
		return s.fail(c, "delete", err)
	}
	s.notifyDeleted(c, domain.KindTask, existing.ID, existing.Visibility(), existing.AssigneeID)
	return c.NoContent(http.StatusNoContent)
}

// checkAssignee verifies that a non-empty assignee is a household member.
func (s *server) checkAssignee(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.store.GetUser(ctx, id); err != nil {
		if statusFor(err) == http.StatusNotFound {
			return fmt.Errorf("%w: unknown assignee %q", domain.ErrInvalid, id)
		}
		return err
	}
	return nil
}

// resolveStage validates stage against the workflow's columns. An empty
// stage on a workflow task lands in the first column.
func (s *server) resolveStage(ctx context.Context, p domain.User, workflowID, stage string) (string, error) {
	if workflowID == "" {
		if stage != "" {
			return "", fmt.Errorf("%w: stage requires workflowId", domain.ErrInvalid)
		}
		return "", nil
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			return "", fmt.Errorf("%w: unknown workflow %q", domain.ErrInvalid, workflowID)
		}
		return "", err
	}
	if !access.IsAccessible(wf.Visibility(), p.ID, nil) {
		return "", fmt.Errorf("%w: unknown workflow %q", domain.ErrInvalid, workflowID)
	}
	if stage == "" {
		if len(wf.Stages) == 0 {
			return "", nil
		}
		return wf.Stages[0], nil
	}
	if !wf.HasStage(stage) {
		return "", fmt.Errorf("%w: stage %q is not part of workflow %q", domain.ErrInvalid, stage, wf.Name)
	}
	return stage, nil
}

func parseBodyTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time %q", domain.ErrInvalid, raw)
	}
	return utcPtr(&t), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
