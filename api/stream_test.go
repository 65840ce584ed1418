package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todoless/notify"
	"todoless/storage"
)

type streamClient struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	r      *bufio.Reader
}

func (c *streamClient) close() {
	c.cancel()
	_ = c.body.Close()
}

// readFrame reads one SSE frame, i.e. everything up to a blank line.
func (c *streamClient) readFrame(t *testing.T) string {
	t.Helper()
	type result struct {
		frame string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var sb strings.Builder
		for {
			line, err := c.r.ReadString('\n')
			if err != nil {
				done <- result{err: err}
				return
			}
			sb.WriteString(line)
			if line == "\n" {
				done <- result{frame: sb.String()}
				return
			}
		}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("read frame: %v", res.err)
		}
		return res.frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return ""
}

func newStreamServer(t *testing.T) (*httptest.Server, *notify.Hub) {
	t.Helper()
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, u := range household() {
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	hub := notify.NewHub(logger)
	e := echo.New()
	Register(e, store, headerAuth{}, hub, logger, Options{StreamBuffer: 8})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, hub
}

func openStream(t *testing.T, srv *httptest.Server, user string) *streamClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream?token="+user, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("expected status 200 got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		cancel()
		t.Fatalf("unexpected content type %q", ct)
	}
	c := &streamClient{cancel: cancel, body: resp.Body, r: bufio.NewReader(resp.Body)}
	t.Cleanup(c.close)
	if frame := c.readFrame(t); frame != notify.ReadyFrame {
		t.Fatalf("expected ready frame, got %q", frame)
	}
	return c
}

func waitForCount(t *testing.T, hub *notify.Hub, user string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count(user) != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d channels for %s, got %d", want, user, hub.Count(user))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamDeliversToEveryTab(t *testing.T) {
	srv, hub := newStreamServer(t)
	tabA := openStream(t, srv, "kid")
	tabB := openStream(t, srv, "kid")
	waitForCount(t, hub, "kid", 2)

	if n := hub.Publish([]string{"kid"}, "task-updated", map[string]int{"id": 5}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	want := "event: task-updated\ndata: {\"id\":5}\n\n"
	if got := tabA.readFrame(t); got != want {
		t.Fatalf("tab A got %q", got)
	}
	if got := tabB.readFrame(t); got != want {
		t.Fatalf("tab B got %q", got)
	}

	tabA.close()
	waitForCount(t, hub, "kid", 1)

	if n := hub.Publish([]string{"kid"}, "task-updated", map[string]int{"id": 6}); n != 1 {
		t.Fatalf("expected 1 delivery after closing a tab, got %d", n)
	}
	if got := tabB.readFrame(t); !strings.Contains(got, `{"id":6}`) {
		t.Fatalf("tab B got %q", got)
	}

	if n := hub.Heartbeat("kid"); n != 1 {
		t.Fatalf("expected heartbeat to reach 1 channel, got %d", n)
	}
	if got := tabB.readFrame(t); got != notify.HeartbeatFrame {
		t.Fatalf("expected heartbeat frame, got %q", got)
	}

	tabB.close()
	waitForCount(t, hub, "kid", 0)
	if hub.Principals() != 0 {
		t.Fatalf("expected registry to be empty")
	}
}

func TestStreamRequiresRegisteredUser(t *testing.T) {
	srv, _ := newStreamServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/api/stream?token=stranger")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.StatusCode)
	}
}
