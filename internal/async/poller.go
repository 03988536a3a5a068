package async

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/kelsos/x-checker/internal/client"
	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/models"
)

// StatusFetcher returns one snapshot of a task. *client.APIClient satisfies it.
type StatusFetcher interface {
	PollStatus(ctx context.Context, taskID, userID string) (*models.TaskRecord, error)
}

// Observer is called with every snapshot the poller receives
type Observer func(record models.TaskRecord)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type Poller struct {
	fetcher    StatusFetcher
	observers  []Observer
	sleep      SleepFunc
	maxRetries int
	retryMin   time.Duration
	retryMax   time.Duration
}

type PollerOption func(*Poller)

// WithObserver registers fn to receive task snapshots
func WithObserver(fn Observer) PollerOption {
	return func(p *Poller) {
		p.observers = append(p.observers, fn)
	}
}

// WithMaxRetries lets a poll retry transient failures up to n consecutive
// times before the error is returned.
func WithMaxRetries(n int) PollerOption {
	return func(p *Poller) {
		p.maxRetries = n
	}
}

// WithRetryDelays sets the backoff bounds used between retries
func WithRetryDelays(min, max time.Duration) PollerOption {
	return func(p *Poller) {
		p.retryMin = min
		p.retryMax = max
	}
}

// WithSleep replaces the wait between polls
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) {
		p.sleep = fn
	}
}

func NewPoller(fetcher StatusFetcher, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		sleep:    Sleep,
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done first
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitUntilTerminal polls the task every interval until its status is one of
// terminal, and returns that final snapshot. With no terminal states given,
// models.DefaultTerminalStatuses is used. A task ending in a failure state is
// returned without error. The loop has no iteration bound; ctx sets the limit.
func (p *Poller) WaitUntilTerminal(
	ctx context.Context,
	taskID string,
	userID string,
	interval time.Duration,
	terminal ...models.TaskStatus,
) (*models.TaskRecord, error) {
	if len(terminal) == 0 {
		terminal = models.DefaultTerminalStatuses
	}

	var previous *models.TaskRecord
	for poll := 1; ; poll++ {
		record, err := p.pollWithRetry(ctx, taskID, userID)
		if err != nil {
			return nil, fmt.Errorf("poll %d of task %s failed: %w", poll, taskID, err)
		}

		checkCounters(previous, record)
		p.notify(*record)

		if record.Status.IsTerminalIn(terminal) {
			logger.Debug("Task %s reached terminal status %s after %d polls", taskID, record.Status, poll)
			return record, nil
		}
		previous = record

		if err := p.sleep(ctx, interval); err != nil {
			return nil, fmt.Errorf("waiting for task %s: %w", taskID, err)
		}
	}
}

func (p *Poller) pollWithRetry(ctx context.Context, taskID, userID string) (*models.TaskRecord, error) {
	b := &backoff.Backoff{
		Min:    p.retryMin,
		Max:    p.retryMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		record, err := p.fetcher.PollStatus(ctx, taskID, userID)
		if err == nil {
			return record, nil
		}

		if ctx.Err() != nil || attempt >= p.maxRetries || !client.IsTransient(err) {
			return nil, err
		}

		delay := b.ForAttempt(float64(attempt))
		logger.Warn("Transient error polling task %s (retry %d/%d in %s): %v",
			taskID, attempt+1, p.maxRetries, delay, err)
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) notify(record models.TaskRecord) {
	for _, observe := range p.observers {
		observe(record)
	}
}

// checkCounters warns when the service reports fewer processed entries than
// an earlier snapshot of the same task.
func checkCounters(previous, current *models.TaskRecord) {
	if previous == nil {
		return
	}
	if current.Success < previous.Success || current.Failure < previous.Failure || current.Total < previous.Total {
		logger.Warn("Task %s counters went backwards: %d/%d/%d -> %d/%d/%d",
			current.TaskID,
			previous.Success, previous.Failure, previous.Total,
			current.Success, current.Failure, current.Total)
	}
}
