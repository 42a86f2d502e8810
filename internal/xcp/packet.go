package xcp

import "fmt"

// Command codes (CTO PID).
const (
	CmdConnect     byte = 0xFF
	CmdDisconnect  byte = 0xFE
	CmdUserCmd     byte = 0xF1
	CmdSetMTA      byte = 0xF6
	CmdUpload      byte = 0xF5
	CmdShortUpload byte = 0xF4
	CmdDownload    byte = 0xF0
	CmdSetCalPage  byte = 0xEB
)

// Response packet identifiers.
const (
	PIDResponse byte = 0xFF
	PIDError    byte = 0xFE
	PIDEvent    byte = 0xFD
	PIDService  byte = 0xFC
)

var commandNames = map[byte]string{
	CmdConnect:     "CONNECT",
	CmdDisconnect:  "DISCONNECT",
	CmdUserCmd:     "USER_CMD",
	CmdSetMTA:      "SET_MTA",
	CmdUpload:      "UPLOAD",
	CmdShortUpload: "SHORT_UPLOAD",
	CmdDownload:    "DOWNLOAD",
	CmdSetCalPage:  "SET_CAL_PAGE",
}

var errorNames = map[byte]string{
	0x00: "ERR_CMD_SYNCH",
	0x10: "ERR_CMD_BUSY",
	0x11: "ERR_DAQ_ACTIVE",
	0x12: "ERR_PGM_ACTIVE",
	0x20: "ERR_CMD_UNKNOWN",
	0x21: "ERR_CMD_SYNTAX",
	0x22: "ERR_OUT_OF_RANGE",
	0x23: "ERR_WRITE_PROTECTED",
	0x24: "ERR_ACCESS_DENIED",
	0x25: "ERR_ACCESS_LOCKED",
	0x26: "ERR_PAGE_NOT_VALID",
	0x27: "ERR_MODE_NOT_VALID",
	0x28: "ERR_SEGMENT_NOT_VALID",
	0x29: "ERR_SEQUENCE",
	0x2A: "ERR_DAQ_CONFIG",
	0x30: "ERR_MEMORY_OVERFLOW",
	0x31: "ERR_GENERIC",
	0x32: "ERR_VERIFY",
}

func commandName(cmd byte) string {
	if n, ok := commandNames[cmd]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", cmd)
}

// CommandError is a negative response from the ECU.
type CommandError struct {
	Command byte
	Code    byte
}

func (e *CommandError) Error() string {
	name, ok := errorNames[e.Code]
	if !ok {
		name = "ERR_UNKNOWN"
	}
	return fmt.Sprintf("xcp %s: %s (0x%02X)", commandName(e.Command), name, e.Code)
}

// ErrorName returns the symbolic name of the error code.
func (e *CommandError) ErrorName() string {
	return errorNames[e.Code]
}
