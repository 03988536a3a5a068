package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// current is swapped whole so that goroutines still logging, such as NATS
// handlers, never see a half replaced logger.
var current atomic.Pointer[zerolog.Logger]

var (
	fileMu  sync.Mutex
	logFile *os.File
)

func init() {
	use(newConsole(os.Stderr))
}

func use(l zerolog.Logger) {
	current.Store(&l)
}

func get() *zerolog.Logger {
	return current.Load()
}

func newConsole(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return fmt.Sprintf("[%s]", i)
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

func setLevel(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// Init sets up console logging on stderr. Records go to stderr so that
// command output on stdout stays machine readable.
func Init(debug bool) {
	use(newConsole(os.Stderr))
	setLevel(debug)
}

// InitFileOnly sends JSON logs to logs/xcheck_<timestamp>.log under dir.
// Used while the terminal monitor owns the screen.
func InitFileOnly(dir string, debug bool) (string, error) {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("xcheck_%s.log", timestamp))

	f, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	use(zerolog.New(f).With().Timestamp().Logger())
	setLevel(debug)

	fileMu.Lock()
	previous := logFile
	logFile = f
	fileMu.Unlock()
	if previous != nil {
		previous.Close()
	}

	Info("Logger initialized in file-only mode: %s", logPath)
	return logPath, nil
}

// Close switches back to console logging on stderr and closes the log file
// if one is open.
func Close() {
	fileMu.Lock()
	f := logFile
	logFile = nil
	fileMu.Unlock()

	if f != nil {
		use(newConsole(os.Stderr))
		f.Close()
	}
}

// SetOutput redirects console logging to w
func SetOutput(w io.Writer) {
	use(newConsole(w))
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	get().Debug().Msgf(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	get().Info().Msgf(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	get().Warn().Msgf(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	get().Error().Msgf(msg, args...)
}

// Fatal logs a fatal message and exits the program
func Fatal(msg string, args ...interface{}) {
	get().Fatal().Msgf(msg, args...)
}

// Task logs a status snapshot with the task fields attached as structured
// context, which keeps file logs greppable by task id.
func Task(taskID, status string, success, failure, total int) {
	get().Info().
		Str("task_id", taskID).
		Str("status", status).
		Int("success", success).
		Int("failure", failure).
		Int("total", total).
		Msgf("Task %s: %s (%d/%d processed)", taskID, status, success+failure, total)
}
