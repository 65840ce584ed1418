package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"todoless/access"
	"todoless/domain"
)

type workflowsResponse struct {
	Workflows []domain.Workflow `json:"workflows"`
}

func (s *server) listWorkflows(c echo.Context) error {
	p := principalFrom(c)
	workflows, err := timeStore(c, func() ([]domain.Workflow, error) {
		return s.store.ListWorkflows(c.Request().Context())
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	visible := make([]domain.Workflow, 0, len(workflows))
	for _, w := range workflows {
		if access.IsAccessible(w.Visibility(), p.ID, nil) {
			visible = append(visible, w)
		}
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(visible))
	}
	return c.JSON(http.StatusOK, workflowsResponse{Workflows: visible})
}

func (s *server) loadWorkflow(c echo.Context) (domain.Workflow, error) {
	return timeStore(c, func() (domain.Workflow, error) {
		return s.store.GetWorkflow(c.Request().Context(), c.Param("id"))
	})
}

func (s *server) getWorkflow(c echo.Context) error {
	w, err := s.loadWorkflow(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !access.IsAccessible(w.Visibility(), principalFrom(c).ID, nil) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, w)
}

func cleanStages(stages []string) ([]string, error) {
	out := make([]string, 0, len(stages))
	seen := make(map[string]struct{}, len(stages))
	for _, st := range stages {
		st = strings.TrimSpace(st)
		if st == "" {
			return nil, fmt.Errorf("%w: stages must not be blank", domain.ErrInvalid)
		}
		if _, dup := seen[st]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", domain.ErrInvalid, st)
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out, nil
}

func (s *server) createWorkflow(c echo.Context) error {
	var req workflowRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	stages, err := cleanStages(req.Stages)
	if err != nil {
		return s.fail(c, "validate", err)
	}
	wf := domain.Workflow{
		ID:      s.newID(),
		OwnerID: principalFrom(c).ID,
		Name:    strings.TrimSpace(req.Name),
		Stages:  stages,
		Shared:  boolOr(req.Shared, true),
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.CreateWorkflow(c.Request().Context(), wf)
	}); err != nil {
		return s.fail(c, "create", err)
	}
	s.notifyCreated(c, domain.KindWorkflow, wf.Visibility(), wf)
	return c.JSON(http.StatusCreated, wf)
}

// updateWorkflow replaces name and stages. Tasks parked in a removed stage
// keep it until they are moved.
func (s *server) updateWorkflow(c echo.Context) error {
	p := principalFrom(c)
	var req workflowRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	stages, err := cleanStages(req.Stages)
	if err != nil {
		return s.fail(c, "validate", err)
	}
	existing, err := s.loadWorkflow(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanMutate(p, existing.Visibility(), "", nil)); err != nil {
		return s.fail(c, "access", err)
	}
	updated := existing
	updated.Name = strings.TrimSpace(req.Name)
	updated.Stages = stages
	if req.Shared != nil && *req.Shared != existing.Shared {
		if err := access.Require(access.CanMutateSharedFlag(existing.Visibility(), p.ID)); err != nil {
			return s.fail(c, "access", err)
		}
		updated.Shared = *req.Shared
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.UpdateWorkflow(c.Request().Context(), updated)
	}); err != nil {
		return s.fail(c, "update", err)
	}
	s.notifyUpdated(c, domain.KindWorkflow, updated.ID, existing.Visibility(), updated.Visibility(), nil, nil, updated)
	return c.JSON(http.StatusOK, updated)
}

func (s *server) deleteWorkflow(c echo.Context) error {
	existing, err := s.loadWorkflow(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanDelete(principalFrom(c), existing.Visibility(), nil)); err != nil {
		return s.fail(c, "access", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteWorkflow(c.Request().Context(), existing.ID)
	}); err != nil {
		return s.fail(c, "delete", err)
	}
	s.notifyDeleted(c, domain.KindWorkflow, existing.ID, existing.Visibility())
	return c.NoContent(http.StatusNoContent)
}
