package conversion

import "fmt"

// DataType is the raw storage type keyword used by MEASUREMENT and
// FNC_VALUES declarations.
type DataType string

const (
	DataTypeUByte   DataType = "UBYTE"
	DataTypeSByte   DataType = "SBYTE"
	DataTypeUWord   DataType = "UWORD"
	DataTypeSWord   DataType = "SWORD"
	DataTypeULong   DataType = "ULONG"
	DataTypeSLong   DataType = "SLONG"
	DataTypeUInt64  DataType = "A_UINT64"
	DataTypeInt64   DataType = "A_INT64"
	DataTypeFloat32 DataType = "FLOAT32_IEEE"
	DataTypeFloat64 DataType = "FLOAT64_IEEE"
)

var dataSizes = map[DataType]int{
	DataTypeUByte:   1,
	DataTypeSByte:   1,
	DataTypeUWord:   2,
	DataTypeSWord:   2,
	DataTypeULong:   4,
	DataTypeSLong:   4,
	DataTypeUInt64:  8,
	DataTypeInt64:   8,
	DataTypeFloat32: 4,
	DataTypeFloat64: 8,
}

// DataTypes returns all supported raw types in declaration order.
func DataTypes() []DataType {
	return []DataType{
		DataTypeUByte, DataTypeSByte,
		DataTypeUWord, DataTypeSWord,
		DataTypeULong, DataTypeSLong,
		DataTypeUInt64, DataTypeInt64,
		DataTypeFloat32, DataTypeFloat64,
	}
}

// ParseDataType maps a raw type keyword to a DataType.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(s)
	if !dt.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
	return dt, nil
}

func (d DataType) Valid() bool {
	_, ok := dataSizes[d]
	return ok
}

// Size returns the byte width, 0 for unknown types.
func (d DataType) Size() int {
	return dataSizes[d]
}

func (d DataType) IsFloat() bool {
	return d == DataTypeFloat32 || d == DataTypeFloat64
}

func (d DataType) IsSigned() bool {
	switch d {
	case DataTypeSByte, DataTypeSWord, DataTypeSLong, DataTypeInt64:
		return true
	}
	return d.IsFloat()
}
