package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kelsos/x-checker/internal/models"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{subject: subject, data: data})
	return nil
}

func TestPublishStatusEvent(t *testing.T) {
	conn := &fakeConn{}
	n := NewStatusNotifier(conn, "xcheck.task.status")
	n.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	err := n.Publish(models.TaskRecord{TaskID: "t1", Status: models.TaskStatusProcessing, Total: 3, Success: 1})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(conn.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(conn.messages))
	}
	msg := conn.messages[0]
	if msg.subject != "xcheck.task.status" {
		t.Errorf("subject = %s", msg.subject)
	}

	var event map[string]interface{}
	if err := json.Unmarshal(msg.data, &event); err != nil {
		t.Fatal(err)
	}
	if event["task_id"] != "t1" || event["status"] != "processing" {
		t.Errorf("unexpected event %v", event)
	}
	if event["observed_at"] != "2025-01-02T03:04:05Z" {
		t.Errorf("observed_at = %v", event["observed_at"])
	}
}

func TestObserveLogsPublishFailures(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	n := NewStatusNotifier(conn, "s")

	if err := n.Publish(models.TaskRecord{TaskID: "t1"}); err == nil {
		t.Error("expected publish error")
	}
	n.Observe(models.TaskRecord{TaskID: "t1"})
}

type flushConn struct {
	calls    []string
	flushErr error
}

func (f *flushConn) FlushTimeout(time.Duration) error {
	f.calls = append(f.calls, "flush")
	return f.flushErr
}

func (f *flushConn) Close() {
	f.calls = append(f.calls, "close")
}

func TestShutdownFlushesThenCloses(t *testing.T) {
	conn := &flushConn{}
	if err := Shutdown(conn, time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(conn.calls) != 2 || conn.calls[0] != "flush" || conn.calls[1] != "close" {
		t.Errorf("calls = %v, want flush then close", conn.calls)
	}

	conn = &flushConn{flushErr: errors.New("nats: timeout")}
	if err := Shutdown(conn, time.Second); err == nil {
		t.Error("expected the flush error")
	}
	if len(conn.calls) != 2 || conn.calls[1] != "close" {
		t.Errorf("connection should be closed even when the flush fails: %v", conn.calls)
	}
}
