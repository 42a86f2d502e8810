package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxStandardID = 0x7FF
	idMask        = 0x1FFFFFFF
	// extendedFlag marks 29-bit identifiers in A2L CAN_ID values.
	extendedFlag = 0x80000000
	maxDataLen   = 8
)

var (
	ErrUnsupportedBitrate = errors.New("slcan: unsupported CAN bitrate")
	ErrFrameTooLong       = errors.New("slcan: CAN frame data exceeds 8 bytes")
	ErrMalformedFrame     = errors.New("slcan: malformed frame")
)

var bitrateCodes = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// BitrateCommand returns the "Sn" setup command for a CAN bitrate in bit/s.
func BitrateCommand(bitrate int) (string, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedBitrate, bitrate)
	}
	return code + "\r", nil
}

// IsExtended reports whether id needs a 29-bit frame.
func IsExtended(id uint32) bool {
	return id&extendedFlag != 0 || id&idMask > maxStandardID
}

// EncodeFrame renders a transmit command ("t" or "T").
func EncodeFrame(id uint32, data []byte) (string, error) {
	if len(data) > maxDataLen {
		return "", fmt.Errorf("%w: %d", ErrFrameTooLong, len(data))
	}
	payload := strings.ToUpper(hex.EncodeToString(data))
	if IsExtended(id) {
		return fmt.Sprintf("T%08X%d%s\r", id&idMask, len(data), payload), nil
	}
	return fmt.Sprintf("t%03X%d%s\r", id&idMask, len(data), payload), nil
}

// ParseFrame decodes a received "t"/"T" line without its terminator.
func ParseFrame(line string) (uint32, []byte, error) {
	if line == "" {
		return 0, nil, ErrMalformedFrame
	}
	idLen := 0
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}
	if len(line) < 1+idLen+1 {
		return 0, nil, fmt.Errorf("%w: %q", ErrMalformedFrame, line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: id in %q", ErrMalformedFrame, line)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc > maxDataLen {
		return 0, nil, fmt.Errorf("%w: dlc in %q", ErrMalformedFrame, line)
	}
	start := 2 + idLen
	// Adapters may append a timestamp; ignore anything past the data.
	if len(line) < start+2*dlc {
		return 0, nil, fmt.Errorf("%w: short data in %q", ErrMalformedFrame, line)
	}
	data, err := hex.DecodeString(line[start : start+2*dlc])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: data in %q", ErrMalformedFrame, line)
	}
	return uint32(id), data, nil
}
