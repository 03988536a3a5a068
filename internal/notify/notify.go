package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/models"
)

// Publisher is the subset of *nats.Conn used to emit events
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StatusEvent is the JSON payload published for every task snapshot
type StatusEvent struct {
	models.TaskRecord
	ObservedAt time.Time `json:"observed_at"`
}

type StatusNotifier struct {
	conn    Publisher
	subject string
	now     func() time.Time
}

func NewStatusNotifier(conn Publisher, subject string) *StatusNotifier {
	return &StatusNotifier{
		conn:    conn,
		subject: subject,
		now:     time.Now,
	}
}

// Connect dials NATS with the reconnect behaviour the CLI wants for a long poll
func Connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Flusher is the subset of *nats.Conn used to shut a connection down
type Flusher interface {
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Shutdown flushes pending events and closes the connection. Unlike Drain it
// returns only once the connection is closed.
func Shutdown(conn Flusher, timeout time.Duration) error {
	err := conn.FlushTimeout(timeout)
	conn.Close()
	if err != nil {
		return fmt.Errorf("failed to flush status events: %w", err)
	}
	return nil
}

// Publish emits one snapshot. Errors are returned for callers that care;
// Observe only logs them.
func (n *StatusNotifier) Publish(record models.TaskRecord) error {
	data, err := json.Marshal(StatusEvent{TaskRecord: record, ObservedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	return nil
}

// Observe matches async.Observer so the notifier can be registered on a poller
func (n *StatusNotifier) Observe(record models.TaskRecord) {
	if err := n.Publish(record); err != nil {
		logger.Error("Status event for task %s not published: %v", record.TaskID, err)
	}
}
