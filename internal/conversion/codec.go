package conversion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrShortBuffer     = errors.New("insufficient data length")
	ErrOutOfRange      = errors.New("value out of range")
)

// Decode interprets the first dt.Size() bytes of data as a little-endian value.
func Decode(dt DataType, data []byte) (float64, error) {
	size := dt.Size()
	if size == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, string(dt))
	}
	if len(data) < size {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortBuffer, dt, size, len(data))
	}

	switch dt {
	case DataTypeUByte:
		return float64(data[0]), nil
	case DataTypeSByte:
		return float64(int8(data[0])), nil
	case DataTypeUWord:
		return float64(binary.LittleEndian.Uint16(data)), nil
	case DataTypeSWord:
		return float64(int16(binary.LittleEndian.Uint16(data))), nil
	case DataTypeULong:
		return float64(binary.LittleEndian.Uint32(data)), nil
	case DataTypeSLong:
		return float64(int32(binary.LittleEndian.Uint32(data))), nil
	case DataTypeUInt64:
		return float64(binary.LittleEndian.Uint64(data)), nil
	case DataTypeInt64:
		return float64(int64(binary.LittleEndian.Uint64(data))), nil
	case DataTypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	}
}

// Encode is the inverse of Decode. Integer types truncate toward zero and
// reject values outside their range.
func Encode(dt DataType, value float64) ([]byte, error) {
	size := dt.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(dt))
	}

	buf := make([]byte, size)
	switch dt {
	case DataTypeFloat32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(value)))
		return buf, nil
	case DataTypeFloat64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(value))
		return buf, nil
	}

	v := math.Trunc(value)
	lo, hi := intBounds(dt)
	if math.IsNaN(v) || v < lo || v >= hi {
		return nil, fmt.Errorf("%w: %g does not fit %s", ErrOutOfRange, value, dt)
	}

	switch dt {
	case DataTypeUByte:
		buf[0] = uint8(v)
	case DataTypeSByte:
		buf[0] = uint8(int8(v))
	case DataTypeUWord:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case DataTypeSWord:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case DataTypeULong:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case DataTypeSLong:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case DataTypeUInt64:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	case DataTypeInt64:
		binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	}
	return buf, nil
}

// intBounds returns the half-open interval [lo, hi) of representable values.
func intBounds(dt DataType) (float64, float64) {
	switch dt {
	case DataTypeUByte:
		return 0, 1 << 8
	case DataTypeSByte:
		return -(1 << 7), 1 << 7
	case DataTypeUWord:
		return 0, 1 << 16
	case DataTypeSWord:
		return -(1 << 15), 1 << 15
	case DataTypeULong:
		return 0, 1 << 32
	case DataTypeSLong:
		return -(1 << 31), 1 << 31
	case DataTypeUInt64:
		return 0, 1 << 64
	default:
		return -(1 << 63), 1 << 63
	}
}
