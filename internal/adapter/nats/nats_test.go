package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/logger"
	"github.com/GGUFloader/agentcore/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func testPayload(t *testing.T, id string) []byte {
	t.Helper()
	data, err := json.Marshal(messagequeue.EventPayload{
		EventID:   id,
		EventType: "tool_call_started",
		Source:    "test",
		Timestamp: time.Now(),
		Data:      map[string]any{"tool_name": "read_file"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := messagequeue.EventSubject("test_" + t.Name())

	var (
		mu    sync.Mutex
		got   messagequeue.EventPayload
		reqID string
		done  = make(chan struct{})
		once  sync.Once
	)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, d []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(d, &got); err != nil {
			return err
		}
		reqID = logger.RequestID(ctx)
		once.Do(func() { close(done) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), "req-abc-123")
	if err := q.Publish(ctx, subject, testPayload(t, "e1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.EventID != "e1" || got.Data["tool_name"] != "read_file" {
		t.Errorf("payload = %+v", got)
	}
	if reqID != "req-abc-123" {
		t.Errorf("request ID = %q", reqID)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q := testConnect(t)
	if !q.IsConnected() {
		t.Error("expected connected queue")
	}
}
