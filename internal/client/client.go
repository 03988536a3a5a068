package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kelsos/x-checker/internal/config"
	"github.com/kelsos/x-checker/internal/logger"
	"github.com/kelsos/x-checker/internal/models"
)

const (
	tasksPath    = "/x/api/simple/tasks"
	apiKeyHeader = "X-API-Key"

	// maxBodySize caps how much of a response is read into memory
	maxBodySize = 1 << 20
	// maxErrorBody caps the response text kept on a RemoteError
	maxErrorBody = 512
)

var (
	ErrEmptyTaskID = errors.New("task id cannot be empty")
	ErrNotText     = errors.New("input file is not valid UTF-8 text")
)

// HTTPClient abstracts HTTP request execution. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient handles all HTTP communication with the task API
type APIClient struct {
	config     *config.Config
	httpClient HTTPClient
}

// Option customizes an APIClient
type Option func(*APIClient)

// WithHTTPClient replaces the default HTTP transport
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *APIClient) {
		c.httpClient = hc
	}
}

// NewAPIClient creates a new API client with the given configuration
func NewAPIClient(cfg *config.Config, opts ...Option) *APIClient {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &APIClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL constructs a full URL for the given tasks endpoint
func (c *APIClient) BuildURL(endpoint string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + tasksPath + endpoint
}

// Submit uploads the file at filePath as a new verification task
func (c *APIClient) Submit(ctx context.Context, filePath string) (*models.TaskRecord, error) {
	body, contentType, err := buildUploadBody(filePath)
	if err != nil {
		return nil, err
	}

	logger.Debug("Uploading %s (%d bytes)", filePath, body.Len())
	return c.request(ctx, http.MethodPost, c.BuildURL(""), body, contentType)
}

// PollStatus fetches the current snapshot of a task
func (c *APIClient) PollStatus(ctx context.Context, taskID, userID string) (*models.TaskRecord, error) {
	if taskID == "" {
		return nil, ErrEmptyTaskID
	}

	endpoint := BuildURLWithParams("/"+url.PathEscape(taskID), map[string]string{
		"user_id": userID,
	})
	return c.request(ctx, http.MethodGet, c.BuildURL(endpoint), nil, "")
}

// request is the core HTTP request method
func (c *APIClient) request(ctx context.Context, method, url string, body io.Reader, contentType string) (*models.TaskRecord, error) {
	start := time.Now()
	logger.Debug("Starting %s request to %s", method, url)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		logger.Error("Request to %s failed after %v: %v", url, elapsed, err)
		return nil, &TransportError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	logger.Debug("Request to %s completed in %v with status %d", url, elapsed, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: method, URL: url, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		logger.Error("%s: HTTP error %d: %s", url, resp.StatusCode, text)
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: text}
	}

	record, err := models.DecodeTaskRecord(data)
	if err != nil {
		logger.Error("%s: Error decoding response: %v", url, err)
		return nil, &DecodeError{Err: err}
	}

	return record, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// buildUploadBody reads the whole input file and embeds it as the "file" part
func buildUploadBody(filePath string) (*bytes.Buffer, string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open input file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("input %s is not a regular file", filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read input file: %w", err)
	}
	if !utf8.Valid(content) {
		return nil, "", fmt.Errorf("%s: %w", filePath, ErrNotText)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`,
		quoteEscaper.Replace(filepath.Base(filePath))))
	header.Set("Content-Type", "text/plain")

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

// BuildURLWithParams properly builds a URL with query parameters
func BuildURLWithParams(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}

	parts := strings.SplitN(endpoint, "?", 2)
	base := parts[0]

	values := url.Values{}
	if len(parts) > 1 {
		existing, err := url.ParseQuery(parts[1])
		if err == nil {
			values = existing
		}
	}

	for key, value := range params {
		values.Set(key, value)
	}

	return base + "?" + values.Encode()
}
