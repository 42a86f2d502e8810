package calibration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// AuditEvent records one completed or failed transfer.
type AuditEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Variable  string    `json:"variable"`
	Values    []float64 `json:"values,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

func newAuditEvent(op Operation, variable string, values []float64, err error) AuditEvent {
	ev := AuditEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Variable:  variable,
		Values:    values,
		Success:   err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
