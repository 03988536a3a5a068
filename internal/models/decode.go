package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// taskRecordWire mirrors TaskRecord with pointer fields so that absent keys
// can be told apart from zero values.
type taskRecordWire struct {
	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
	TaskID    *string `json:"task_id"`
	UserID    *string `json:"user_id"`
	Status    *string `json:"status"`
	Total     *int    `json:"total"`
	Success   *int    `json:"success"`
	Failure   *int    `json:"failure"`
	ResultURL *string `json:"result_url"`
}

var ErrEmptyBody = errors.New("empty response body")

// DecodeTaskRecord parses a task response body. It either returns a fully
// populated record or an error, never both.
func DecodeTaskRecord(data []byte) (*TaskRecord, error) {
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}

	var wire taskRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid task record: %w", err)
	}

	var missing []string
	if wire.TaskID == nil || *wire.TaskID == "" {
		missing = append(missing, "task_id")
	}
	if wire.Status == nil || *wire.Status == "" {
		missing = append(missing, "status")
	}
	if wire.Total == nil {
		missing = append(missing, "total")
	}
	if wire.Success == nil {
		missing = append(missing, "success")
	}
	if wire.Failure == nil {
		missing = append(missing, "failure")
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	return &TaskRecord{
		CreatedAt: deref(wire.CreatedAt),
		UpdatedAt: deref(wire.UpdatedAt),
		TaskID:    *wire.TaskID,
		UserID:    deref(wire.UserID),
		Status:    TaskStatus(*wire.Status),
		Total:     *wire.Total,
		Success:   *wire.Success,
		Failure:   *wire.Failure,
		ResultURL: deref(wire.ResultURL),
	}, nil
}

// MissingFieldsError lists required keys absent from a task response.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("task record is missing required fields: %v", e.Fields)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
