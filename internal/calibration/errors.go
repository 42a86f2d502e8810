package calibration

import "errors"

var (
	ErrNotLoaded          = errors.New("no descriptor tables loaded")
	ErrUnknownVariable    = errors.New("unknown variable")
	ErrNoAddress          = errors.New("variable has no ECU address")
	ErrInvalidAddress     = errors.New("invalid ECU address")
	ErrNoRecordLayout     = errors.New("record layout not found")
	ErrUnknownCompuMethod = errors.New("compu method not found")
	ErrNotCharacteristic  = errors.New("variable is not a characteristic")
	ErrNotConnected       = errors.New("not connected to ECU")
)
