package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelsos/x-checker/internal/logger"
)

// HTTPClient abstracts HTTP request execution. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultClient has a longer timeout than API calls since result sheets can be large
var DefaultClient HTTPClient = &http.Client{Timeout: 5 * time.Minute}

// validateURL accepts only absolute http(s) URLs
func validateURL(resultURL string) error {
	parsedURL, err := url.Parse(resultURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %q", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL has no host: %s", resultURL)
	}

	return nil
}

// FetchResult downloads the artifact at resultURL to dest. The body is
// written to a temporary file in the same directory and renamed into place
// only once complete, so dest never holds a partial download.
func FetchResult(ctx context.Context, client HTTPClient, resultURL, dest string) (int64, error) {
	if err := validateURL(resultURL); err != nil {
		return 0, err
	}
	if client == nil {
		client = DefaultClient
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create results directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "xcheck-downloader")

	start := time.Now()
	logger.Info("Downloading results from %s...", resultURL)

	// #nosec G107 - URL comes from the task API response and is scheme-checked above
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download file from %s: %w", resultURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bad status downloading results: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(dir, ".xcheck-download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write file %s: %w", dest, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}

	logger.Info("Results saved to %s (%d KB in %v)", dest, written/1024, time.Since(start).Round(time.Millisecond))
	return written, nil
}
