package calibration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenCalibrationCore/internal/a2l"
	"github.com/KevinKickass/OpenCalibrationCore/internal/conversion"
)

type Kind string

const (
	KindMeasurement    Kind = "measurement"
	KindCharacteristic Kind = "characteristic"
)

// VariableInfo is everything needed to transfer one variable.
type VariableInfo struct {
	Name          string              `json:"name"`
	Kind          Kind                `json:"kind"`
	Type          string              `json:"type,omitempty"`
	Address       uint32              `json:"address"`
	Extension     uint8               `json:"extension"`
	DataType      conversion.DataType `json:"data_type"`
	MatrixDim     [3]int              `json:"matrix_dim"`
	Formula       conversion.Formula  `json:"formula"`
	HasConversion bool                `json:"has_conversion"`
	Unit          string              `json:"unit,omitempty"`
}

// Count is the number of elements transferred. Only the first matrix axis
// is addressed.
func (v *VariableInfo) Count() int {
	return v.MatrixDim[0]
}

func (v *VariableInfo) ElementAddress(i int) uint32 {
	return v.Address + uint32(i*v.DataType.Size())
}

// Resolve looks up name, falling back to the display identifier aliases.
func (s *Session) Resolve(name string) (*VariableInfo, error) {
	tables := s.tables.Load()
	if tables == nil {
		return nil, ErrNotLoaded
	}
	return resolve(tables, name)
}

func resolve(tables *a2l.Tables, name string) (*VariableInfo, error) {
	canonical, ok := tables.Canonical(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}

	var (
		info                  = &VariableInfo{Name: canonical}
		address, ext, rawType string
		conv                  string
		dims                  []int
	)
	if m, ok := tables.Measurements[canonical]; ok {
		info.Kind = KindMeasurement
		address, ext, rawType = m.ECUAddress, m.ECUAddressExtension, m.DataType
		conv, dims = m.Conversion, m.MatrixDim
	} else {
		c := tables.Characteristics[canonical]
		info.Kind = KindCharacteristic
		info.Type = c.Type
		address, ext = c.ECUAddress, c.ECUAddressExtension
		conv, dims = c.Conversion, c.MatrixDim
		rl, ok := tables.RecordLayouts[c.Deposit]
		if !ok {
			return nil, fmt.Errorf("%w: %s (deposit of %s)", ErrNoRecordLayout, c.Deposit, canonical)
		}
		rawType = rl.FncValues.DataType
	}

	if address == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, canonical)
	}
	addr, err := parseHex(address, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %q", ErrInvalidAddress, canonical, address)
	}
	info.Address = uint32(addr)

	if ext != "" {
		e, err := parseHex(ext, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: extension %q", ErrInvalidAddress, canonical, ext)
		}
		info.Extension = uint8(e)
	}

	dt, err := conversion.ParseDataType(rawType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", canonical, err)
	}
	info.DataType = dt

	info.MatrixDim = [3]int{1, 1, 1}
	for i := 0; i < len(dims) && i < 3; i++ {
		if dims[i] > 0 {
			info.MatrixDim[i] = dims[i]
		}
	}

	info.Formula = conversion.Identity
	if conv != "" && conv != a2l.NoCompuMethod {
		cm, ok := tables.CompuMethods[conv]
		if !ok {
			return nil, fmt.Errorf("%w: %s (conversion of %s)", ErrUnknownCompuMethod, conv, canonical)
		}
		info.Unit = cm.Unit
		if cm.Function != "" {
			info.Formula = conversion.Formula(cm.Function)
			info.HasConversion = true
		}
	}

	return info, nil
}

func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}
