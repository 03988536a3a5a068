package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/x-checker/internal/models"
	"github.com/kelsos/x-checker/internal/services"
)

// CheckMonitor drives a Model from a running batch of checks. Its methods are
// safe to call from any goroutine.
type CheckMonitor struct {
	program *tea.Program
	final   Model
}

func NewCheckMonitor(logPath string, opts ...tea.ProgramOption) *CheckMonitor {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &CheckMonitor{
		program: tea.NewProgram(NewModel(logPath), opts...),
	}
}

// Observe matches async.Observer and forwards every snapshot to the screen
func (cm *CheckMonitor) Observe(record models.TaskRecord) {
	cm.program.Send(TaskUpdate{Record: record})
}

func (cm *CheckMonitor) SetFiles(files []string) {
	cm.program.Send(FilesLoaded{Files: files})
}

func (cm *CheckMonitor) AddLog(message string) {
	cm.program.Send(LogMessage{Message: message})
}

func (cm *CheckMonitor) Finish(result services.CheckResult) {
	cm.program.Send(CheckFinished{Result: result})
}

func (cm *CheckMonitor) Stop() {
	cm.program.Quit()
}

// Run blocks until the screen is closed, either by the user or by Stop
func (cm *CheckMonitor) Run() error {
	model, err := cm.program.Run()
	if err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	if m, ok := model.(Model); ok {
		cm.final = m
	}
	return nil
}

// Final returns the model state the screen closed with
func (cm *CheckMonitor) Final() Model {
	return cm.final
}

// RunChecks checks files through svc, reporting each outcome to the monitor
// as soon as its file is done. The screen is stopped once all checks are done.
func (cm *CheckMonitor) RunChecks(ctx context.Context, svc *services.CheckService, files []string) ([]services.CheckResult, error) {
	cm.SetFiles(files)
	cm.AddLog(fmt.Sprintf("Found %d files to check", len(files)))

	results, err := svc.CheckAllFunc(ctx, files, cm.Finish)
	if err != nil {
		cm.AddLog(fmt.Sprintf("❌ %d checks failed", countFailed(results)))
	} else {
		cm.AddLog("🎉 All checks completed")
	}

	cm.Stop()
	return results, err
}

func countFailed(results []services.CheckResult) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
