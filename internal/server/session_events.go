package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entrance/internal/auth/token"
	"github.com/smallbiznis/entrance/internal/realtime"
)

const sessionEventsHeartbeat = 15 * time.Second

// StreamSessionEvents pushes session-change notices to every connection that
// holds the same session cookie, so other tabs can refresh after a signup.
func (s *Server) StreamSessionEvents(c *gin.Context) {
	if s.hub == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	raw, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if _, err := s.authsvc.Authenticate(c.Request.Context(), raw); err != nil {
		AbortWithError(c, err)
		return
	}

	subscription, err := s.hub.Subscribe(token.Hash(raw))
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(sessionEventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if err := writeSessionEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSessionEvent(w io.Writer, event realtime.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
