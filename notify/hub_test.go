package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type recordingChannel struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (r *recordingChannel) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, string(frame))
	return nil
}

func (r *recordingChannel) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

type badPayload struct{}

func (badPayload) MarshalJSON() ([]byte, error) { return nil, errors.New("boom") }

func newTestHub(t *testing.T) (*Hub, *Metrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewHub(logger, WithMetrics(metrics)), metrics
}

func TestRegisterPublishUnregister(t *testing.T) {
	hub, _ := newTestHub(t)
	ch := &recordingChannel{}

	hub.Register("user1", ch)
	if n := hub.Publish([]string{"user1"}, "x", map[string]int{"id": 1}); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	frames := ch.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if frames[0] != "event: x\ndata: {\"id\":1}\n\n" {
		t.Fatalf("unexpected frame %q", frames[0])
	}

	hub.Unregister("user1", ch)
	if n := hub.Publish([]string{"user1"}, "x", map[string]int{"id": 2}); n != 0 {
		t.Fatalf("expected no deliveries after unregister, got %d", n)
	}
	if len(ch.Frames()) != 1 {
		t.Fatalf("received frame after unregister")
	}
	if hub.Principals() != 0 {
		t.Fatalf("expected empty principal entry to be dropped")
	}
}

func TestRegisterIsIdempotentPerHandle(t *testing.T) {
	hub, metrics := newTestHub(t)
	ch := &recordingChannel{}

	hub.Register("user1", ch)
	hub.Register("user1", ch)
	if hub.Count("user1") != 1 {
		t.Fatalf("expected a single registration, got %d", hub.Count("user1"))
	}
	if got := testutil.ToFloat64(metrics.OpenChannels); got != 1 {
		t.Fatalf("expected open channel gauge 1, got %v", got)
	}
	hub.Publish([]string{"user1"}, "x", nil)
	if len(ch.Frames()) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(ch.Frames()))
	}

	hub.Unregister("user1", ch)
	hub.Unregister("user1", ch)
	if got := testutil.ToFloat64(metrics.OpenChannels); got != 0 {
		t.Fatalf("expected open channel gauge 0, got %v", got)
	}
}

func TestPublishWithoutChannelsIsNoop(t *testing.T) {
	hub, _ := newTestHub(t)
	if n := hub.Publish([]string{"nobody"}, "task-updated", map[string]string{"id": "t"}); n != 0 {
		t.Fatalf("expected zero deliveries, got %d", n)
	}
	if n := hub.Publish(nil, "task-updated", nil); n != 0 {
		t.Fatalf("expected zero deliveries, got %d", n)
	}
}

func TestPublishFailureDoesNotStopOtherChannels(t *testing.T) {
	hub, metrics := newTestHub(t)
	broken := &recordingChannel{err: errors.New("broken pipe")}
	healthy := &recordingChannel{}
	other := &recordingChannel{}

	hub.Register("user1", broken)
	hub.Register("user1", healthy)
	hub.Register("user2", other)

	if n := hub.Publish([]string{"user1", "user2"}, "note-created", map[string]string{"id": "n"}); n != 2 {
		t.Fatalf("expected two deliveries, got %d", n)
	}
	if len(healthy.Frames()) != 1 || len(other.Frames()) != 1 {
		t.Fatalf("expected healthy channels to receive the event")
	}
	if got := testutil.ToFloat64(metrics.DroppedTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected one dropped frame, got %v", got)
	}
}

func TestPublishDeduplicatesPrincipals(t *testing.T) {
	hub, _ := newTestHub(t)
	ch := &recordingChannel{}
	hub.Register("user1", ch)

	hub.Publish([]string{"user1", "user1"}, "task-created", nil)
	if len(ch.Frames()) != 1 {
		t.Fatalf("expected duplicate ids to deliver once, got %d", len(ch.Frames()))
	}
}

func TestPublishUnencodablePayloadIsSwallowed(t *testing.T) {
	hub, _ := newTestHub(t)
	ch := &recordingChannel{}
	hub.Register("user1", ch)

	if n := hub.Publish([]string{"user1"}, "x", badPayload{}); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func assertSingleDataLine(t *testing.T, frame string) {
	t.Helper()
	lines := strings.Split(strings.TrimSuffix(frame, "\n\n"), "\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, "event: ") && !strings.HasPrefix(line, SSEDataPrefix) {
			t.Fatalf("frame %q has a line without a field name: %q", frame, line)
		}
	}
}

func TestPublishMultiLineRawPayload(t *testing.T) {
	hub, _ := newTestHub(t)
	ch := &recordingChannel{}
	hub.Register("u", ch)

	raw := json.RawMessage("{\n  \"id\": 5,\r\n  \"title\": \"a\\nb\"\n}")
	if n := hub.Publish([]string{"u"}, "task-updated", raw); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	frames := ch.Frames()
	want := "event: task-updated\ndata: {\"id\":5,\"title\":\"a\\nb\"}\n\n"
	if len(frames) != 1 || frames[0] != want {
		t.Fatalf("unexpected frames %q, want %q", frames, want)
	}
	assertSingleDataLine(t, frames[0])
}

func TestDeliverCompactsRelayedPayload(t *testing.T) {
	hub, metrics := newTestHub(t)
	ch := &recordingChannel{}
	hub.Register("u", ch)

	env := Envelope{Origin: "other", UserIDs: []string{"u"}, Event: "note-created", Data: json.RawMessage("{\n\"id\": \"n1\"\n}")}
	if n := hub.Deliver(env); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	frames := ch.Frames()
	if len(frames) != 1 || frames[0] != "event: note-created\ndata: {\"id\":\"n1\"}\n\n" {
		t.Fatalf("unexpected frames %q", frames)
	}
	assertSingleDataLine(t, frames[0])

	env.Data = json.RawMessage("{\n\"id\": ")
	if n := hub.Deliver(env); n != 0 {
		t.Fatalf("expected broken payload to be dropped, got %d deliveries", n)
	}
	if got := testutil.ToFloat64(metrics.DroppedTotal.WithLabelValues("encode")); got != 1 {
		t.Fatalf("expected one encode drop, got %v", got)
	}
	if len(ch.Frames()) != 1 {
		t.Fatalf("expected no extra frame")
	}
}

func TestTwoTabsScenario(t *testing.T) {
	hub, _ := newTestHub(t)
	tabA := NewStreamChannel(4)
	tabB := NewStreamChannel(4)
	hub.Register("U", tabA)
	hub.Register("U", tabB)

	hub.Publish([]string{"U"}, "task.updated", map[string]int{"id": 5})
	for name, tab := range map[string]*StreamChannel{"A": tabA, "B": tabB} {
		select {
		case frame := <-tab.Frames():
			if !strings.Contains(string(frame), `{"id":5}`) {
				t.Fatalf("tab %s got unexpected frame %q", name, frame)
			}
		default:
			t.Fatalf("tab %s did not receive the event", name)
		}
	}

	hub.Unregister("U", tabA)
	tabA.Close()
	hub.Publish([]string{"U"}, "task.updated", map[string]int{"id": 5})

	select {
	case <-tabB.Frames():
	default:
		t.Fatalf("tab B did not receive the second event")
	}
	if frame, ok := <-tabA.Frames(); ok {
		t.Fatalf("closed tab A received %q", frame)
	}
}

func TestHeartbeat(t *testing.T) {
	hub, _ := newTestHub(t)
	a := &recordingChannel{}
	b := &recordingChannel{}
	other := &recordingChannel{}
	hub.Register("user1", a)
	hub.Register("user1", b)
	hub.Register("user2", other)

	if n := hub.Heartbeat("user1"); n != 2 {
		t.Fatalf("expected two heartbeats, got %d", n)
	}
	if a.Frames()[0] != HeartbeatFrame || b.Frames()[0] != HeartbeatFrame {
		t.Fatalf("unexpected heartbeat frames")
	}
	if len(other.Frames()) != 0 {
		t.Fatalf("heartbeat leaked to another principal")
	}
}

func TestStreamChannelSendNeverBlocks(t *testing.T) {
	ch := NewStreamChannel(1)
	if err := ch.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := ch.Send([]byte("b")); !errors.Is(err, ErrChannelFull) {
		t.Fatalf("expected full error, got %v", err)
	}
	ch.Close()
	ch.Close()
	if err := ch.Send([]byte("c")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if !ch.Closed() {
		t.Fatalf("expected channel to report closed")
	}
}

func TestHubConcurrentRegisterPublish(t *testing.T) {
	hub, _ := newTestHub(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user%d", i%4)
			ch := NewStreamChannel(8)
			for j := 0; j < 50; j++ {
				hub.Register(user, ch)
				hub.Publish([]string{user}, "task-updated", map[string]int{"j": j})
				hub.Heartbeat(user)
				hub.Unregister(user, ch)
			}
			ch.Close()
		}(i)
	}
	wg.Wait()
	if hub.Principals() != 0 {
		t.Fatalf("expected registry to be empty, got %d principals", hub.Principals())
	}
}

func TestRunHeartbeatsReachesEveryPrincipal(t *testing.T) {
	hub, _ := newTestHub(t)
	a, b := NewStreamChannel(4), NewStreamChannel(4)
	hub.Register("a", a)
	hub.Register("b", b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunHeartbeats(ctx, 10*time.Millisecond) }()

	for name, ch := range map[string]*StreamChannel{"a": a, "b": b} {
		select {
		case frame := <-ch.Frames():
			if string(frame) != HeartbeatFrame {
				t.Fatalf("unexpected frame for %s: %q", name, frame)
			}
		case <-time.After(time.Second):
			t.Fatalf("no heartbeat for %s", name)
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunHeartbeats returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunHeartbeats did not stop")
	}
}
