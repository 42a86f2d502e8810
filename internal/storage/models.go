package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenCalibrationCore/internal/calibration"
)

// AuditStore persists calibration audit events.
type AuditStore interface {
	calibration.Recorder
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]calibration.AuditEvent, error)
	Close() error
}

// AuditFilter narrows ListAuditEvents. Zero values match everything.
type AuditFilter struct {
	Variable  string
	Operation calibration.Operation
	Limit     int
}

const defaultListLimit = 100

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func encodeValues(values []float64) ([]byte, error) {
	if values == nil {
		values = []float64{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal values: %w", err)
	}
	return data, nil
}

func decodeValues(data []byte) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
