package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kelsos/x-checker/internal/async"
	"github.com/kelsos/x-checker/internal/client"
	"github.com/kelsos/x-checker/internal/config"
	"github.com/kelsos/x-checker/internal/download"
	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/models"
	"github.com/kelsos/x-checker/internal/storage"
)

// ErrTaskFailed is returned when a task ends in the failed state
var ErrTaskFailed = errors.New("task failed")

// CheckResult is the outcome of checking one input file
type CheckResult struct {
	File       string
	Record     *models.TaskRecord
	ResultPath string
	Err        error
}

// CheckService orchestrates submitting input files and waiting for results
type CheckService struct {
	config     *config.Config
	client     *client.APIClient
	poller     *async.Poller
	downloader download.HTTPClient

	userOnce sync.Once
	userID   string
}

type options struct {
	observers  []async.Observer
	httpClient client.HTTPClient
	sleep      async.SleepFunc
}

type Option func(*options)

// WithObserver adds a receiver for every task snapshot seen while waiting
func WithObserver(fn async.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, fn)
	}
}

// WithHTTPClient sets the transport for both API calls and result downloads
func WithHTTPClient(hc client.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithSleep replaces the wait between status polls
func WithSleep(fn async.SleepFunc) Option {
	return func(o *options) {
		o.sleep = fn
	}
}

// NewCheckService creates a new check service with all dependencies
func NewCheckService(cfg *config.Config, opts ...Option) *CheckService {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg = withUsableLimits(cfg)

	var clientOpts []client.Option
	var downloader download.HTTPClient
	if o.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(o.httpClient))
		downloader = o.httpClient
	}
	apiClient := client.NewAPIClient(cfg, clientOpts...)

	pollerOpts := []async.PollerOption{
		async.WithMaxRetries(cfg.MaxRetries),
		async.WithObserver(logSnapshot),
	}
	for _, fn := range o.observers {
		pollerOpts = append(pollerOpts, async.WithObserver(fn))
	}
	if o.sleep != nil {
		pollerOpts = append(pollerOpts, async.WithSleep(o.sleep))
	}

	return &CheckService{
		config:     cfg,
		client:     apiClient,
		poller:     async.NewPoller(apiClient, pollerOpts...),
		downloader: downloader,
		userID:     cfg.UserID,
	}
}

// withUsableLimits returns a copy of cfg in which values that would stall a
// batch or spin the poll loop are replaced by their defaults.
func withUsableLimits(cfg *config.Config) *config.Config {
	c := *cfg
	d := config.NewConfig()
	if c.Concurrency < 1 {
		logger.Warn("Concurrency %d is not usable, using %d", c.Concurrency, d.Concurrency)
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		logger.Warn("Poll interval %s is not usable, using %s", c.PollInterval, d.PollInterval)
		c.PollInterval = d.PollInterval
	}
	return &c
}

func logSnapshot(r models.TaskRecord) {
	logger.Task(r.TaskID, string(r.Status), r.Success, r.Failure, r.Total)
}

// UserID returns the user id sent with status polls when none is
// known for a task. One is generated on first use if none is configured.
func (s *CheckService) UserID() string {
	s.userOnce.Do(func() {
		if s.userID == "" {
			s.userID = uuid.NewString()
			logger.Info("No user id configured, using generated id %s", s.userID)
		}
	})
	return s.userID
}

// userIDFor prefers a configured id, then the id the service echoed on submit
func (s *CheckService) userIDFor(record *models.TaskRecord) string {
	if s.config.UserID != "" {
		return s.config.UserID
	}
	if record != nil && record.UserID != "" {
		return record.UserID
	}
	return s.UserID()
}

// Submit uploads one input file
func (s *CheckService) Submit(ctx context.Context, filePath string) (*models.TaskRecord, error) {
	logger.Info("Uploading file %s...", filePath)
	record, err := s.client.Submit(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s: %w", filePath, err)
	}
	logger.Info("Task ID: %s, initial status: %s", record.TaskID, record.Status)
	return record, nil
}

// Status fetches the current snapshot of a task once
func (s *CheckService) Status(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	record, err := s.client.PollStatus(ctx, taskID, s.UserID())
	if err != nil {
		return nil, fmt.Errorf("failed to check status of task %s: %w", taskID, err)
	}
	return record, nil
}

// Wait polls a task until it is terminal, bounded by the configured timeout
func (s *CheckService) Wait(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	return s.wait(ctx, taskID, s.UserID())
}

func (s *CheckService) wait(ctx context.Context, taskID, userID string) (*models.TaskRecord, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	logger.Info("Polling task %s every %s...", taskID, s.config.PollInterval)
	start := time.Now()

	record, err := s.poller.WaitUntilTerminal(ctx, taskID, userID, s.config.PollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("task %s not finished after %s: %w", taskID, s.config.Timeout, err)
		}
		return nil, err
	}

	logger.Info("Task %s finished with status %s in %v", taskID, record.Status, time.Since(start).Round(time.Second))
	return record, nil
}

// Check submits filePath, waits for the task to finish and downloads the
// result artifact when the task was exported.
func (s *CheckService) Check(ctx context.Context, filePath string) (CheckResult, error) {
	result := CheckResult{File: filePath}

	submitted, err := s.Submit(ctx, filePath)
	if err != nil {
		result.Err = err
		return result, err
	}

	record, err := s.wait(ctx, submitted.TaskID, s.userIDFor(submitted))
	if err != nil {
		result.Record = submitted
		result.Err = err
		return result, err
	}
	result.Record = record

	if record.Status == models.TaskStatusFailed {
		result.Err = fmt.Errorf("task %s for %s: %w", record.TaskID, filePath, ErrTaskFailed)
		return result, result.Err
	}

	if s.config.Download && record.ResultURL != "" {
		dest := storage.ResultPath(s.config.ResultsDir, record.TaskID, record.ResultURL)
		if _, err := download.FetchResult(ctx, s.downloader, record.ResultURL, dest); err != nil {
			result.Err = fmt.Errorf("failed to download results of task %s: %w", record.TaskID, err)
			return result, result.Err
		}
		result.ResultPath = dest
	} else if record.ResultURL != "" {
		logger.Info("Results available at: %s", record.ResultURL)
	}

	if s.config.CleanupInput {
		if err := storage.RemoveInput(filePath); err != nil {
			logger.Warn("%v", err)
		} else {
			logger.Info("Cleaned up input file %s", filePath)
		}
	}

	return result, nil
}

// CheckAll checks every file with at most Concurrency tasks in flight. A
// failing file does not stop the others; results keep input order and the
// returned error joins every failure.
func (s *CheckService) CheckAll(ctx context.Context, files []string) ([]CheckResult, error) {
	return s.CheckAllFunc(ctx, files, nil)
}

// CheckAllFunc is CheckAll with onResult called as soon as each file is done,
// from the goroutine that checked it. onResult must be safe for concurrent use.
func (s *CheckService) CheckAllFunc(ctx context.Context, files []string, onResult func(CheckResult)) ([]CheckResult, error) {
	results := make([]CheckResult, len(files))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	for i, file := range files {
		g.Go(func() error {
			res, err := s.Check(ctx, file)
			if err != nil {
				logger.Error("Check of %s failed: %v", file, err)
			}
			results[i] = res
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}

	logger.Info("Checked %d files, %d failed", len(files), len(errs))
	return results, errors.Join(errs...)
}
