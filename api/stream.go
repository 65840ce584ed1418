package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todoless/notify"
)

// stream holds a server-sent events connection open and relays the frames
// the hub queues for the caller. Heartbeats are queued by the hub too.
func (s *server) stream(c echo.Context) error {
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "streaming unsupported")
	}
	userID := principalFrom(c).ID
	ctx := c.Request().Context()

	ch := notify.NewStreamChannel(s.streamBuffer)
	s.hub.Register(userID, ch)
	defer func() {
		s.hub.Unregister(userID, ch)
		ch.Close()
	}()

	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write([]byte(notify.ReadyFrame)); err != nil {
		return nil
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-ch.Frames():
			if !ok {
				return nil
			}
			if _, err := res.Write(frame); err != nil {
				s.logger.WithError(err).WithFields(log.Fields{"user": userID}).Debug("stream write failed")
				return nil
			}
			flusher.Flush()
		}
	}
}
