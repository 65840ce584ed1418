package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todoless/access"
	"todoless/domain"
)

type labelsResponse struct {
	Labels []domain.Label `json:"labels"`
}

func (s *server) listLabels(c echo.Context) error {
	p := principalFrom(c)
	labels, err := timeStore(c, func() ([]domain.Label, error) {
		return s.store.ListLabels(c.Request().Context())
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	visible := make([]domain.Label, 0, len(labels))
	for _, l := range labels {
		if access.IsAccessible(l.Visibility(), p.ID, nil) {
			visible = append(visible, l)
		}
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(visible))
	}
	return c.JSON(http.StatusOK, labelsResponse{Labels: visible})
}

func (s *server) loadLabel(c echo.Context) (domain.Label, error) {
	return timeStore(c, func() (domain.Label, error) {
		return s.store.GetLabel(c.Request().Context(), c.Param("id"))
	})
}

func (s *server) getLabel(c echo.Context) error {
	l, err := s.loadLabel(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !access.IsAccessible(l.Visibility(), principalFrom(c).ID, nil) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, l)
}

func (s *server) createLabel(c echo.Context) error {
	var req createLabelRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	label := domain.Label{
		ID:      s.newID(),
		OwnerID: principalFrom(c).ID,
		Name:    strings.TrimSpace(req.Name),
		Color:   strings.ToLower(req.Color),
		Shared:  boolOr(req.Shared, true),
	}
	if label.Name == "" {
		return s.fail(c, "validate", fmt.Errorf("%w: name failed required", domain.ErrInvalid))
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.CreateLabel(c.Request().Context(), label)
	}); err != nil {
		return s.fail(c, "create", err)
	}
	s.notifyCreated(c, domain.KindLabel, label.Visibility(), label)
	return c.JSON(http.StatusCreated, label)
}

// updateLabel renames or recolors a label. Privacy changes go through
// setLabelShared so the cascade always runs.
func (s *server) updateLabel(c echo.Context) error {
	p := principalFrom(c)
	var req updateLabelRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	existing, err := s.loadLabel(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanMutate(p, existing.Visibility(), "", nil)); err != nil {
		return s.fail(c, "access", err)
	}
	updated := existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			return s.fail(c, "validate", fmt.Errorf("%w: name failed required", domain.ErrInvalid))
		}
	}
	if req.Color != nil {
		updated.Color = strings.ToLower(*req.Color)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.UpdateLabel(c.Request().Context(), updated)
	}); err != nil {
		return s.fail(c, "update", err)
	}
	s.notifyUpdated(c, domain.KindLabel, updated.ID, existing.Visibility(), updated.Visibility(), nil, nil, updated)
	return c.JSON(http.StatusOK, updated)
}

// setLabelShared toggles a label's privacy and cascades the value onto every
// task and note carrying it. Everyone is told to refresh since any item's
// visibility may have changed.
func (s *server) setLabelShared(c echo.Context) error {
	var req setSharedRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	existing, err := s.loadLabel(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanMutateSharedFlag(existing.Visibility(), principalFrom(c).ID)); err != nil {
		return s.fail(c, "access", err)
	}
	result, err := timeStore(c, func() (domain.CascadeResult, error) {
		return s.store.SetLabelShared(c.Request().Context(), existing.ID, *req.Shared)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"label": existing.ID,
			"tasks": len(result.TaskIDs),
			"notes": len(result.NoteIDs),
		}).Error("label privacy cascade failed")
		return s.fail(c, "cascade", err)
	}
	s.notifyEveryone(c, domain.LabelsUpdated, result)
	return c.JSON(http.StatusOK, result)
}

func (s *server) deleteLabel(c echo.Context) error {
	existing, err := s.loadLabel(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanDelete(principalFrom(c), existing.Visibility(), nil)); err != nil {
		return s.fail(c, "access", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteLabel(c.Request().Context(), existing.ID)
	}); err != nil {
		return s.fail(c, "delete", err)
	}
	s.notifyDeleted(c, domain.KindLabel, existing.ID, existing.Visibility())
	if !existing.Shared {
		// Items it vetoed are visible again.
		s.notifyEveryone(c, domain.LabelsUpdated, domain.CascadeResult{Label: existing, TaskIDs: []string{}, NoteIDs: []string{}})
	}
	return c.NoContent(http.StatusNoContent)
}
