package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todoless/domain"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the response for err and records the failing stage. Internal
// errors are logged and never echoed to the client.
func (s *server) fail(c echo.Context, stage string, err error) error {
	status := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(stage)
		m.SetError(err)
	}
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.logger.WithError(err).WithFields(log.Fields{"route": c.Path(), "stage": stage}).Error("request failed")
		msg = http.StatusText(status)
	case http.StatusNotFound, http.StatusForbidden:
		msg = strings.SplitN(msg, ":", 2)[0]
	}
	return c.String(status, msg)
}
