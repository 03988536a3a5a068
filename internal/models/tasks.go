package models

import "slices"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusExported   TaskStatus = "exported"
	TaskStatusFailed     TaskStatus = "failed"
)

// DefaultTerminalStatuses are the states after which the remote service never
// changes a task again.
var DefaultTerminalStatuses = []TaskStatus{TaskStatusExported, TaskStatusFailed}

// IsTerminalIn reports whether s is one of the given terminal states.
func (s TaskStatus) IsTerminalIn(terminal []TaskStatus) bool {
	return slices.Contains(terminal, s)
}

// TaskRecord is a single snapshot of a remote verification task.
type TaskRecord struct {
	CreatedAt string     `json:"created_at" yaml:"created_at"`
	UpdatedAt string     `json:"updated_at" yaml:"updated_at"`
	TaskID    string     `json:"task_id" yaml:"task_id"`
	UserID    string     `json:"user_id" yaml:"user_id"`
	Status    TaskStatus `json:"status" yaml:"status"`
	Total     int        `json:"total" yaml:"total"`
	Success   int        `json:"success" yaml:"success"`
	Failure   int        `json:"failure" yaml:"failure"`
	ResultURL string     `json:"result_url,omitempty" yaml:"result_url,omitempty"`
}

// Processed returns how many entries the service has finished, either way.
func (r TaskRecord) Processed() int {
	return r.Success + r.Failure
}

// Progress returns the processed fraction in [0, 1]. A task without a total
// reports 0 until it is terminal.
func (r TaskRecord) Progress() float64 {
	if r.Total <= 0 {
		if r.Status.IsTerminalIn(DefaultTerminalStatuses) {
			return 1
		}
		return 0
	}
	p := float64(r.Processed()) / float64(r.Total)
	if p > 1 {
		return 1
	}
	return p
}
