package dataset

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Info describes a dataset file.
type Info struct {
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	ECU             string `json:"ecu,omitempty" yaml:"ecu,omitempty"`
	Version         string `json:"version,omitempty" yaml:"version,omitempty"`
	ContinueOnError bool   `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
}

// Entry is one physical value for one characteristic.
type Entry struct {
	Variable string  `json:"variable" yaml:"variable"`
	Value    float64 `json:"value" yaml:"value"`
	Comment  string  `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Dataset is a batch of writes applied in file order.
type Dataset struct {
	Dataset Info    `json:"dataset" yaml:"dataset"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Writer is satisfied by *calibration.Session.
type Writer interface {
	Write(ctx context.Context, name string, value float64) error
}

type EntryResult struct {
	Variable string  `json:"variable"`
	Value    float64 `json:"value"`
	Success  bool    `json:"success"`
	Error    string  `json:"error,omitempty"`
}

type Result struct {
	Dataset  string        `json:"dataset"`
	Applied  int           `json:"applied"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Entries  []EntryResult `json:"entries"`
	Duration time.Duration `json:"duration"`
}

// Apply writes every entry through w. Without continue_on_error the first
// failure stops the batch and the remaining entries count as skipped.
func Apply(ctx context.Context, ds *Dataset, w Writer, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	res := &Result{Dataset: ds.Dataset.Name, Entries: make([]EntryResult, 0, len(ds.Entries))}

	var firstErr error
	for i, e := range ds.Entries {
		if err := ctx.Err(); err != nil {
			res.Skipped += len(ds.Entries) - i
			return res, err
		}

		er := EntryResult{Variable: e.Variable, Value: e.Value, Success: true}
		if err := w.Write(ctx, e.Variable, e.Value); err != nil {
			er.Success = false
			er.Error = err.Error()
			res.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("entry %d (%s): %w", i, e.Variable, err)
			}
		} else {
			res.Applied++
		}
		res.Entries = append(res.Entries, er)

		if !er.Success && !ds.Dataset.ContinueOnError {
			res.Skipped = len(ds.Entries) - i - 1
			break
		}
	}
	res.Duration = time.Since(start)

	logger.Info("Dataset applied",
		zap.String("dataset", res.Dataset),
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration))

	return res, firstErr
}
