package api

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"todoless/access"
	"todoless/domain"
)

// audienceContext is what publishing needs to resolve who sees an item.
type audienceContext struct {
	userIDs []string
	labels  access.Labels
}

// loadAudience reads the household and label snapshot after a write. A
// failure degrades to notifying only the owner and named extras; the write
// itself has already succeeded.
func (s *server) loadAudience(c echo.Context) audienceContext {
	var ac audienceContext
	users, err := timeStore(c, func() ([]domain.User, error) {
		return s.store.ListUsers(c.Request().Context())
	})
	if err != nil {
		s.logger.WithError(err).Warn("load users for notification")
	}
	for _, u := range users {
		ac.userIDs = append(ac.userIDs, u.ID)
	}
	labels, err := s.labelIndex(c)
	if err != nil {
		s.logger.WithError(err).Warn("load labels for notification")
	}
	ac.labels = labels
	return ac
}

func (ac audienceContext) of(item domain.Visibility, extra ...string) []string {
	return access.Audience(item, ac.userIDs, ac.labels, extra...)
}

// publish hands the event to the hub inside a span of the request trace.
func (s *server) publish(c echo.Context, userIDs []string, event string, payload any) {
	_, span := otel.Tracer(tracerName).Start(c.Request().Context(), "notify.publish",
		trace.WithAttributes(
			attribute.String("todoless.event", event),
			attribute.Int("todoless.event.recipients", len(userIDs)),
		),
	)
	delivered := s.hub.Publish(userIDs, event, payload)
	span.SetAttributes(attribute.Int("todoless.event.delivered", delivered))
	span.End()
}

func (s *server) notifyCreated(c echo.Context, kind string, item domain.Visibility, payload any, extra ...string) {
	ac := s.loadAudience(c)
	s.publish(c, ac.of(item, extra...), domain.EventName(kind, domain.ActionCreated), payload)
}

// notifyUpdated sends the update to everyone who can see the item now and a
// delete to everyone the update hid it from.
func (s *server) notifyUpdated(c echo.Context, kind, id string, before, after domain.Visibility, beforeExtra, afterExtra []string, payload any) {
	ac := s.loadAudience(c)
	now := ac.of(after, afterExtra...)
	s.publish(c, now, domain.EventName(kind, domain.ActionUpdated), payload)
	if lost := access.Lost(ac.of(before, beforeExtra...), now); len(lost) > 0 {
		s.publish(c, lost, domain.EventName(kind, domain.ActionDeleted), domain.DeletedPayload{ID: id})
	}
}

func (s *server) notifyDeleted(c echo.Context, kind, id string, item domain.Visibility, extra ...string) {
	ac := s.loadAudience(c)
	s.publish(c, ac.of(item, extra...), domain.EventName(kind, domain.ActionDeleted), domain.DeletedPayload{ID: id})
}

// notifyEveryone publishes to every household member.
func (s *server) notifyEveryone(c echo.Context, event string, payload any) {
	ac := s.loadAudience(c)
	s.publish(c, ac.userIDs, event, payload)
}
