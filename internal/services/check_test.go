package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kelsos/x-checker/internal/client"
	"github.com/kelsos/x-checker/internal/config"
	"github.com/kelsos/x-checker/internal/models"
)

// fakeAPI serves the task endpoints. Files whose name contains "fail" end in
// the failed state, others are exported after two processing polls.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	polls   map[string]int
	userIDs map[string]string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	api := &fakeAPI{t: t, polls: map[string]int{}, userIDs: map[string]string{}}
	api.srv = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.srv.Close)
	return api
}

func (a *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-Key") != "key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/x/api/simple/tasks":
		_, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		taskID := "task-" + strings.TrimSuffix(header.Filename, ".txt")
		fmt.Fprintf(w, `{"task_id":%q,"user_id":"svc-user","status":"pending","total":3,"success":0,"failure":0}`, taskID)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/x/api/simple/tasks/"):
		taskID := strings.TrimPrefix(r.URL.Path, "/x/api/simple/tasks/")
		a.mu.Lock()
		a.polls[taskID]++
		n := a.polls[taskID]
		a.userIDs[taskID] = r.URL.Query().Get("user_id")
		a.mu.Unlock()

		status, resultURL := models.TaskStatusProcessing, ""
		switch {
		case strings.Contains(taskID, "fail") && n >= 2:
			status = models.TaskStatusFailed
		case !strings.Contains(taskID, "fail") && n >= 3:
			status = models.TaskStatusExported
			resultURL = a.srv.URL + "/results/" + taskID + ".xlsx"
		}
		fmt.Fprintf(w, `{"task_id":%q,"status":%q,"total":3,"success":%d,"failure":0,"result_url":%q}`,
			taskID, status, n, resultURL)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/results/"):
		w.Write([]byte("xlsx:" + r.URL.Path))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *fakeAPI) userID(taskID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userIDs[taskID]
}

func (a *fakeAPI) pollCount(taskID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls[taskID]
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newService(t *testing.T, api *fakeAPI, mutate func(*config.Config), opts ...Option) *CheckService {
	t.Helper()
	cfg := config.NewConfig()
	cfg.APIKey = "key"
	cfg.BaseURL = api.srv.URL
	cfg.ResultsDir = filepath.Join(t.TempDir(), "results")
	cfg.PollInterval = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	return NewCheckService(cfg, append([]Option{WithSleep(noSleep)}, opts...)...)
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("+1234567890\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckExportedDownloadsResults(t *testing.T) {
	api := newFakeAPI(t)

	var mu sync.Mutex
	var seen []models.TaskStatus
	svc := newService(t, api, nil, WithObserver(func(r models.TaskRecord) {
		mu.Lock()
		seen = append(seen, r.Status)
		mu.Unlock()
	}))

	input := writeInput(t, t.TempDir(), "alpha.txt")
	res, err := svc.Check(context.Background(), input)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	if res.Record.Status != models.TaskStatusExported {
		t.Errorf("status = %s", res.Record.Status)
	}
	if api.pollCount("task-alpha") != 3 {
		t.Errorf("polls = %d, want 3", api.pollCount("task-alpha"))
	}
	if len(seen) != 3 {
		t.Errorf("observer saw %v", seen)
	}

	data, err := os.ReadFile(res.ResultPath)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if string(data) != "xlsx:/results/task-alpha.xlsx" {
		t.Errorf("result content = %q", data)
	}
	if filepath.Base(res.ResultPath) != "task-alpha.xlsx" {
		t.Errorf("result path = %s", res.ResultPath)
	}

	if _, err := os.Stat(input); err != nil {
		t.Errorf("input should be kept without cleanup: %v", err)
	}
}

func TestCheckUsesSubmitUserIDWhenNoneConfigured(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) { c.Download = false })

	if _, err := svc.Check(context.Background(), writeInput(t, t.TempDir(), "beta.txt")); err != nil {
		t.Fatal(err)
	}
	if got := api.userID("task-beta"); got != "svc-user" {
		t.Errorf("user_id = %q, want the id echoed on submit", got)
	}
}

func TestCheckConfiguredUserIDWins(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) {
		c.UserID = "test"
		c.Download = false
	})

	if _, err := svc.Check(context.Background(), writeInput(t, t.TempDir(), "gamma.txt")); err != nil {
		t.Fatal(err)
	}
	if got := api.userID("task-gamma"); got != "test" {
		t.Errorf("user_id = %q, want test", got)
	}
}

func TestCheckFailedTask(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) { c.CleanupInput = true })

	input := writeInput(t, t.TempDir(), "will-fail.txt")
	res, err := svc.Check(context.Background(), input)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if res.Record == nil || res.Record.Status != models.TaskStatusFailed {
		t.Errorf("record = %+v", res.Record)
	}
	if res.ResultPath != "" {
		t.Errorf("failed task should not download, got %s", res.ResultPath)
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("input of a failed task must be kept: %v", err)
	}
}

func TestCheckCleanupInput(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) { c.CleanupInput = true })

	input := writeInput(t, t.TempDir(), "delta.txt")
	if _, err := svc.Check(context.Background(), input); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Errorf("input should be removed, stat err = %v", err)
	}
}

func TestCheckSubmitRemoteError(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) { c.APIKey = "wrong" })

	res, err := svc.Check(context.Background(), writeInput(t, t.TempDir(), "x.txt"))
	var remoteErr *client.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected RemoteError 401, got %v", err)
	}
	if res.Record != nil {
		t.Errorf("expected no record, got %+v", res.Record)
	}
}

func TestWaitTimeout(t *testing.T) {
	api := newFakeAPI(t)
	cfg := config.NewConfig()
	cfg.APIKey = "key"
	cfg.BaseURL = api.srv.URL
	cfg.PollInterval = time.Hour
	cfg.Timeout = 50 * time.Millisecond
	svc := NewCheckService(cfg)

	_, err := svc.Wait(context.Background(), "task-slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if api.pollCount("task-slow") != 1 {
		t.Errorf("polls = %d, want 1", api.pollCount("task-slow"))
	}
}

func TestStatusGeneratesStableUserID(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, nil)

	if _, err := svc.Status(context.Background(), "task-one"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Status(context.Background(), "task-two"); err != nil {
		t.Fatal(err)
	}

	first, second := api.userID("task-one"), api.userID("task-two")
	if first == "" || first != second {
		t.Errorf("user ids %q and %q should be the same generated id", first, second)
	}
	if svc.UserID() != first {
		t.Errorf("UserID() = %q, want %q", svc.UserID(), first)
	}
}

func TestCheckAll(t *testing.T) {
	api := newFakeAPI(t)
	svc := newService(t, api, func(c *config.Config) { c.Concurrency = 2 })

	dir := t.TempDir()
	files := []string{
		writeInput(t, dir, "one.txt"),
		writeInput(t, dir, "two-fail.txt"),
		writeInput(t, dir, "three.txt"),
		filepath.Join(dir, "missing.txt"),
	}

	results, err := svc.CheckAll(context.Background(), files)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Errorf("joined error should include ErrTaskFailed: %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("joined error should include the missing file: %v", err)
	}

	if len(results) != len(files) {
		t.Fatalf("results = %d, want %d", len(results), len(files))
	}
	for i, res := range results {
		if res.File != files[i] {
			t.Errorf("result %d is for %s, want %s", i, res.File, files[i])
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("successful files reported errors: %v, %v", results[0].Err, results[2].Err)
	}
	if results[0].ResultPath == "" || results[2].ResultPath == "" {
		t.Error("successful files should have downloaded results")
	}
	if results[1].Err == nil || results[3].Err == nil {
		t.Error("failing files should report errors")
	}
}

func TestCheckAllFuncReportsEachFileWhenDone(t *testing.T) {
	api := newFakeAPI(t)

	release := make(chan struct{})
	blockingSleep := func(ctx context.Context, d time.Duration) error {
		select {
		case <-release:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("sleep was never released")
		}
	}
	svc := newService(t, api, func(c *config.Config) {
		c.Concurrency = 2
		c.Download = false
	}, WithSleep(blockingSleep))

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.txt")
	files := []string{writeInput(t, dir, "slow.txt"), missing}

	var (
		mu   sync.Mutex
		seen []string
		once sync.Once
	)
	results, err := svc.CheckAllFunc(context.Background(), files, func(res CheckResult) {
		mu.Lock()
		seen = append(seen, res.File)
		mu.Unlock()
		if res.File == missing {
			once.Do(func() { close(release) })
		}
	})

	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the missing file error, got %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("slow file should finish once released: %v", results[0].Err)
	}
	if len(seen) != 2 || seen[0] != missing {
		t.Errorf("results reported in order %v, want the missing file first", seen)
	}
}

func TestNewCheckServiceReplacesUnusableLimits(t *testing.T) {
	api := newFakeAPI(t)
	cfg := &config.Config{APIKey: "key", BaseURL: api.srv.URL}
	svc := NewCheckService(cfg, WithSleep(noSleep))

	if svc.config.Concurrency < 1 {
		t.Errorf("Concurrency = %d, want at least 1", svc.config.Concurrency)
	}
	if svc.config.PollInterval <= 0 {
		t.Errorf("PollInterval = %s, want positive", svc.config.PollInterval)
	}
	if cfg.Concurrency != 0 {
		t.Error("the caller's config should not be modified")
	}

	input := writeInput(t, t.TempDir(), "zero.txt")
	done := make(chan error, 1)
	go func() {
		_, err := svc.CheckAll(context.Background(), []string{input})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("CheckAll: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CheckAll with a zero concurrency config did not return")
	}
}
