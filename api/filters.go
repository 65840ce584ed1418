package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"todoless/domain"
)

type filtersResponse struct {
	Filters []domain.SavedFilter `json:"filters"`
}

func (s *server) listFilters(c echo.Context) error {
	filters, err := timeStore(c, func() ([]domain.SavedFilter, error) {
		return s.store.ListFilters(c.Request().Context(), principalFrom(c).ID)
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if filters == nil {
		filters = []domain.SavedFilter{}
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(filters))
	}
	return c.JSON(http.StatusOK, filtersResponse{Filters: filters})
}

// loadOwnFilter returns the filter only to its owner. Anyone else gets
// ErrNotFound so filter ids do not leak.
func (s *server) loadOwnFilter(c echo.Context) (domain.SavedFilter, error) {
	f, err := timeStore(c, func() (domain.SavedFilter, error) {
		return s.store.GetFilter(c.Request().Context(), c.Param("id"))
	})
	if err != nil {
		return f, err
	}
	if f.OwnerID != principalFrom(c).ID {
		return domain.SavedFilter{}, fmt.Errorf("%w: filter %s", domain.ErrNotFound, f.ID)
	}
	return f, nil
}

func validateQuery(q domain.TaskQuery) error {
	switch q.Status {
	case "", domain.StatusTodo, domain.StatusDoing, domain.StatusDone:
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalid, q.Status)
	}
	if q.DueFrom != nil && q.DueTo != nil && q.DueTo.Before(*q.DueFrom) {
		return fmt.Errorf("%w: dueTo before dueFrom", domain.ErrInvalid)
	}
	return nil
}

func (s *server) getFilter(c echo.Context) error {
	f, err := s.loadOwnFilter(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	return c.JSON(http.StatusOK, f)
}

func (s *server) createFilter(c echo.Context) error {
	var req filterRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	if err := validateQuery(req.Query); err != nil {
		return s.fail(c, "validate", err)
	}
	f := domain.SavedFilter{
		ID:      s.newID(),
		OwnerID: principalFrom(c).ID,
		Name:    strings.TrimSpace(req.Name),
		Query:   req.Query,
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.CreateFilter(c.Request().Context(), f)
	}); err != nil {
		return s.fail(c, "create", err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (s *server) updateFilter(c echo.Context) error {
	var req filterRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	if err := validateQuery(req.Query); err != nil {
		return s.fail(c, "validate", err)
	}
	f, err := s.loadOwnFilter(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	f.Name = strings.TrimSpace(req.Name)
	f.Query = req.Query
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.UpdateFilter(c.Request().Context(), f)
	}); err != nil {
		return s.fail(c, "update", err)
	}
	return c.JSON(http.StatusOK, f)
}

func (s *server) deleteFilter(c echo.Context) error {
	f, err := s.loadOwnFilter(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteFilter(c.Request().Context(), f.ID)
	}); err != nil {
		return s.fail(c, "delete", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// filterTasks runs a saved filter through the regular task listing.
func (s *server) filterTasks(c echo.Context) error {
	f, err := s.loadOwnFilter(c)
	if err != nil {
		return s.fail(c, "storage", err)
	}
	return s.respondTasks(c, f.Query)
}
