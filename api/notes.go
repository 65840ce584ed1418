package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"todoless/access"
	"todoless/domain"
)

type notesResponse struct {
	Notes []domain.Note `json:"notes"`
}

func (s *server) listNotes(c echo.Context) error {
	p := principalFrom(c)
	labels, err := s.labelIndex(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	notes, err := timeStore(c, func() ([]domain.Note, error) {
		return s.store.ListNotes(c.Request().Context())
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	text := strings.TrimSpace(c.QueryParam("q"))
	labelID := strings.TrimSpace(c.QueryParam("labelId"))
	visible := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if !access.IsAccessible(n.Visibility(), p.ID, labels) {
			continue
		}
		if labelID != "" && !n.Visibility().HasLabel(labelID) {
			continue
		}
		if text != "" && !n.Matches(text) {
			continue
		}
		visible = append(visible, n)
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(visible))
	}
	return c.JSON(http.StatusOK, notesResponse{Notes: visible})
}

func (s *server) loadNote(c echo.Context) (domain.Note, access.Labels, error) {
	labels, err := s.labelIndex(c)
	if err != nil {
		return domain.Note{}, nil, err
	}
	n, err := timeStore(c, func() (domain.Note, error) {
		return s.store.GetNote(c.Request().Context(), c.Param("id"))
	})
	return n, labels, err
}

func (s *server) getNote(c echo.Context) error {
	n, labels, err := s.loadNote(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !access.IsAccessible(n.Visibility(), principalFrom(c).ID, labels) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	return c.JSON(http.StatusOK, n)
}

func (s *server) createNote(c echo.Context) error {
	var req createNoteRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	now := s.timestamp()
	note := domain.Note{
		ID:        s.newID(),
		OwnerID:   principalFrom(c).ID,
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		Pinned:    req.Pinned,
		Shared:    boolOr(req.Shared, true),
		LabelIDs:  domain.NormalizeLabelIDs(req.LabelIDs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if note.Title == "" {
		return s.fail(c, "validate", fmt.Errorf("%w: title failed required", domain.ErrInvalid))
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.CreateNote(c.Request().Context(), note)
	}); err != nil {
		return s.fail(c, "create", err)
	}
	s.notifyCreated(c, domain.KindNote, note.Visibility(), note)
	return c.JSON(http.StatusCreated, note)
}

func (s *server) updateNote(c echo.Context) error {
	p := principalFrom(c)
	var req updateNoteRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	existing, labels, err := s.loadNote(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if !access.IsAccessible(existing.Visibility(), p.ID, labels) {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	if err := access.Require(access.CanMutate(p, existing.Visibility(), "", labels)); err != nil {
		return s.fail(c, "access", err)
	}
	if req.Shared != nil && *req.Shared != existing.Shared {
		if err := access.Require(access.CanMutateSharedFlag(existing.Visibility(), p.ID)); err != nil {
			return s.fail(c, "access", err)
		}
	}

	updated := existing
	if req.Title != nil {
		updated.Title = strings.TrimSpace(*req.Title)
		if updated.Title == "" {
			return s.fail(c, "validate", fmt.Errorf("%w: title failed required", domain.ErrInvalid))
		}
	}
	if req.Body != nil {
		updated.Body = *req.Body
	}
	if req.Pinned != nil {
		updated.Pinned = *req.Pinned
	}
	if req.Shared != nil {
		updated.Shared = *req.Shared
	}
	if req.LabelIDs != nil {
		updated.LabelIDs = domain.NormalizeLabelIDs(*req.LabelIDs)
	}
	updated.UpdatedAt = s.timestamp()

	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.UpdateNote(c.Request().Context(), updated)
	}); err != nil {
		return s.fail(c, "update", err)
	}
	s.notifyUpdated(c, domain.KindNote, updated.ID, existing.Visibility(), updated.Visibility(), nil, nil, updated)
	return c.JSON(http.StatusOK, updated)
}

func (s *server) deleteNote(c echo.Context) error {
	existing, labels, err := s.loadNote(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if err := access.Require(access.CanDelete(principalFrom(c), existing.Visibility(), labels)); err != nil {
		return s.fail(c, "access", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteNote(c.Request().Context(), existing.ID)
	}); err != nil {
		return s.fail(c, "delete", err)
	}
	s.notifyDeleted(c, domain.KindNote, existing.ID, existing.Visibility())
	return c.NoContent(http.StatusNoContent)
}
