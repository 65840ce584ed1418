// Package api exposes the household REST and server-push endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todoless/access"
	"todoless/domain"
)

const defaultStreamBuffer = 64

// Options tunes Register. Zero values select defaults.
type Options struct {
	Deduper      Deduper
	StreamBuffer int
	Now          func() time.Time
	NewID        func() string
}

type server struct {
	store    Storage
	auth     Authenticator
	hub      Hub
	deduper  Deduper
	logger   *log.Logger
	validate *validator.Validate

	streamBuffer int
	now          func() time.Time
	newID        func() string
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, hub Hub, logger *log.Logger, opts Options) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &server{
		store:        store,
		auth:         auth,
		hub:          hub,
		deduper:      opts.Deduper,
		logger:       logger,
		validate:     newValidator(),
		streamBuffer: opts.StreamBuffer,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if s.deduper == nil {
		s.deduper = NewMemoryDeduper(24 * time.Hour)
	}
	if s.streamBuffer <= 0 {
		s.streamBuffer = defaultStreamBuffer
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	e.GET("/healthz", s.healthz)

	g := e.Group("/api", observe(logger))
	authed := s.authenticate(false)
	principal := []echo.MiddlewareFunc{authed, s.requireUser}

	g.POST("/users/me", s.registerMe, authed)

	g.GET("/users/me", s.getMe, principal...)
	g.GET("/users", s.listUsers, principal...)
	g.PATCH("/users/:id/role", s.updateRole, principal...)

	g.GET("/tasks", s.listTasks, principal...)
	g.POST("/tasks", s.createTask, principal...)
	g.GET("/tasks/:id", s.getTask, principal...)
	g.PATCH("/tasks/:id", s.updateTask, principal...)
	g.DELETE("/tasks/:id", s.deleteTask, principal...)

	g.GET("/notes", s.listNotes, principal...)
	g.POST("/notes", s.createNote, principal...)
	g.GET("/notes/:id", s.getNote, principal...)
	g.PATCH("/notes/:id", s.updateNote, principal...)
	g.DELETE("/notes/:id", s.deleteNote, principal...)

	g.GET("/labels", s.listLabels, principal...)
	g.POST("/labels", s.createLabel, principal...)
	g.GET("/labels/:id", s.getLabel, principal...)
	g.PATCH("/labels/:id", s.updateLabel, principal...)
	g.PUT("/labels/:id/shared", s.setLabelShared, principal...)
	g.DELETE("/labels/:id", s.deleteLabel, principal...)

	g.GET("/workflows", s.listWorkflows, principal...)
	g.POST("/workflows", s.createWorkflow, principal...)
	g.GET("/workflows/:id", s.getWorkflow, principal...)
	g.PATCH("/workflows/:id", s.updateWorkflow, principal...)
	g.DELETE("/workflows/:id", s.deleteWorkflow, principal...)

	g.GET("/filters", s.listFilters, principal...)
	g.POST("/filters", s.createFilter, principal...)
	g.GET("/filters/:id", s.getFilter, principal...)
	g.PATCH("/filters/:id", s.updateFilter, principal...)
	g.DELETE("/filters/:id", s.deleteFilter, principal...)
	g.GET("/filters/:id/tasks", s.filterTasks, principal...)

	g.GET("/stream", s.stream, s.authenticate(true), s.requireUser)
}

func (s *server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return c.NoContent(http.StatusOK)
}

const (
	userIDContextKey    = "user_id"
	principalContextKey = "principal"
)

// authenticate resolves the caller's user id from the bearer token.
func (s *server) authenticate(allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			userID, err := s.auth.UserIDFromAuthHeader(authorizationFromRequest(c.Request(), allowQuery))
			m := metricsFrom(c)
			if m != nil {
				m.ObserveAuth(time.Since(start))
			}
			if err != nil {
				if m != nil {
					m.SetErrorStage("auth")
				}
				return c.String(http.StatusUnauthorized, err.Error())
			}
			if m != nil {
				m.SetUser(userID)
			}
			c.Set(userIDContextKey, userID)
			return next(c)
		}
	}
}

// requireUser loads the principal's user row. Callers must register through
// POST /api/users/me first.
func (s *server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := timeStore(c, func() (domain.User, error) {
			return s.store.GetUser(c.Request().Context(), userIDFrom(c))
		})
		if err != nil {
			if statusFor(err) == http.StatusNotFound {
				if m := metricsFrom(c); m != nil {
					m.SetErrorStage("principal")
				}
				return c.String(http.StatusForbidden, "user not registered")
			}
			return s.fail(c, "principal", err)
		}
		c.Set(principalContextKey, u)
		return next(c)
	}
}

func userIDFrom(c echo.Context) string {
	id, _ := c.Get(userIDContextKey).(string)
	return id
}

func principalFrom(c echo.Context) domain.User {
	u, _ := c.Get(principalContextKey).(domain.User)
	return u
}

// labelIndex loads the label snapshot used by access checks.
func (s *server) labelIndex(c echo.Context) (access.Labels, error) {
	labels, err := timeStore(c, func() ([]domain.Label, error) {
		return s.store.ListLabels(c.Request().Context())
	})
	if err != nil {
		return nil, err
	}
	return access.NewLabels(labels), nil
}

func (s *server) timestamp() time.Time {
	return s.now().UTC()
}
