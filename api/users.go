package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"todoless/domain"
)

type usersResponse struct {
	Users []domain.User `json:"users"`
}

// registerMe provisions the authenticated caller. Registering again returns
// the existing row unchanged. The first member of the household is admin.
func (s *server) registerMe(c echo.Context) error {
	ctx := c.Request().Context()
	id := userIDFrom(c)
	existing, err := timeStore(c, func() (domain.User, error) {
		return s.store.GetUser(ctx, id)
	})
	if err == nil {
		return c.JSON(http.StatusOK, existing)
	}
	if statusFor(err) != http.StatusNotFound {
		return s.fail(c, "storage", err)
	}

	var req createUserRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	users, err := timeStore(c, func() ([]domain.User, error) {
		return s.store.ListUsers(ctx)
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	u := domain.User{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Role:      domain.RoleRestricted,
		CreatedAt: s.timestamp(),
	}
	if len(users) == 0 {
		u.Role = domain.RoleAdmin
	}
	if u.Name == "" {
		return s.fail(c, "validate", fmt.Errorf("%w: name failed required", domain.ErrInvalid))
	}
	if _, err := timeStore(c, func() (struct{}, error) {
		return struct{}{}, s.store.CreateUser(ctx, u)
	}); err != nil {
		return s.fail(c, "create", err)
	}
	s.logger.WithField("user", u.ID).WithField("role", u.Role).Info("user registered")
	return c.JSON(http.StatusCreated, u)
}

func (s *server) getMe(c echo.Context) error {
	return c.JSON(http.StatusOK, principalFrom(c))
}

func (s *server) listUsers(c echo.Context) error {
	users, err := timeStore(c, func() ([]domain.User, error) {
		return s.store.ListUsers(c.Request().Context())
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	if m := metricsFrom(c); m != nil {
		m.SetItemsReturned(len(users))
	}
	return c.JSON(http.StatusOK, usersResponse{Users: users})
}

// updateRole lets an admin promote or demote a member. The household always
// keeps at least one admin.
func (s *server) updateRole(c echo.Context) error {
	ctx := c.Request().Context()
	if !principalFrom(c).IsAdmin() {
		return s.fail(c, "access", domain.ErrAccessDenied)
	}
	var req updateRoleRequest
	if err := s.decodeBody(c, &req); err != nil {
		return s.fail(c, "decode", err)
	}
	targetID := c.Param("id")
	users, err := timeStore(c, func() ([]domain.User, error) {
		return s.store.ListUsers(ctx)
	})
	if err != nil {
		return s.fail(c, "storage", err)
	}
	var (
		target *domain.User
		admins int
	)
	for i := range users {
		if users[i].IsAdmin() {
			admins++
		}
		if users[i].ID == targetID {
			target = &users[i]
		}
	}
	if target == nil {
		return s.fail(c, "storage", fmt.Errorf("%w: user %s", domain.ErrNotFound, targetID))
	}
	if target.IsAdmin() && req.Role != domain.RoleAdmin && admins <= 1 {
		return s.fail(c, "validate", fmt.Errorf("%w: cannot demote the last admin", domain.ErrInvalid))
	}
	updated, err := timeStore(c, func() (domain.User, error) {
		return s.store.UpdateUserRole(ctx, targetID, req.Role)
	})
	if err != nil {
		return s.fail(c, "update", err)
	}
	return c.JSON(http.StatusOK, updated)
}
