package signal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signal names of the calibration bus.
const (
	ReadCommand  = "cal_read"
	WritePrefix  = "cal_write_"
	ResultPrefix = "cal_"
)

type CommandKind int

const (
	KindRead CommandKind = iota
	KindWrite
)

func (k CommandKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	}
	return "unknown"
}

// Command is a calibration request received from the signal bus.
type Command struct {
	Kind  CommandKind
	Name  string
	Value float64 // KindWrite only
}

var (
	ErrNotCommand  = errors.New("not a calibration command")
	ErrBadArgument = errors.New("invalid command argument")
)

// ParseCommand interprets a bus signal. For cal_read the payload is the
// variable name; for cal_write_<name> it is the physical value.
func ParseCommand(signalName string, payload any) (Command, error) {
	switch {
	case signalName == ReadCommand:
		name, ok := payload.(string)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return Command{}, fmt.Errorf("%w: %s needs a variable name, got %v", ErrBadArgument, ReadCommand, payload)
		}
		return Command{Kind: KindRead, Name: name}, nil

	case strings.HasPrefix(signalName, WritePrefix) && len(signalName) > len(WritePrefix):
		v, err := toFloat(payload)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrBadArgument, signalName, err)
		}
		return Command{Kind: KindWrite, Name: signalName[len(WritePrefix):], Value: v}, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrNotCommand, signalName)
}

// ResultName is the signal a read result is published under.
func ResultName(variable string) string {
	return ResultPrefix + variable
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}
