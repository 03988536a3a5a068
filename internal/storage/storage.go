package storage

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const DefaultResultExt = ".xlsx"

var ErrNoNumbers = errors.New("no phone numbers given")

// WriteInputFile writes one phone number per line to filePath, creating the
// parent directory if needed. Blank entries are dropped.
func WriteInputFile(filePath string, numbers []string) (string, error) {
	lines := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if n = strings.TrimSpace(n); n != "" {
			lines = append(lines, n)
		}
	}
	if len(lines) == 0 {
		return "", ErrNoNumbers
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", filePath, err)
		}
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	return filePath, nil
}

// ReadNumbers returns the non-blank, trimmed lines of an input file
func ReadNumbers(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var numbers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			numbers = append(numbers, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	return numbers, nil
}

// ResultPath returns where the result artifact of a task is stored:
// <dir>/<taskID><ext>, ext taken from the URL path.
func ResultPath(dir, taskID, resultURL string) string {
	ext := DefaultResultExt
	if u, err := url.Parse(resultURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 8 {
			ext = e
		}
	}

	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskID)
	return filepath.Join(dir, name+ext)
}

// RemoveInput deletes a submitted input file. A file already gone is not an error.
func RemoveInput(filePath string) error {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove input file %s: %w", filePath, err)
	}
	return nil
}
