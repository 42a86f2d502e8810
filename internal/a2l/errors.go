package a2l

import (
	"errors"
	"fmt"
)

// ParseError describes a stanza that was dropped.
type ParseError struct {
	Block string `json:"block"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Err   error  `json:"-"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at line %d: %v", e.Block, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errMissingName       = errors.New("missing name")
	errMissingDataType   = errors.New("missing data type")
	errMissingConversion = errors.New("missing conversion method")
	errMissingAddress    = errors.New("no address found")
	errMissingDeposit    = errors.New("missing record layout")
	errBadFncValues      = errors.New("FNC_VALUES needs position, data type, index mode and address type")
	errBadCoeffs         = errors.New("malformed coefficients")
	errMissingPairs      = errors.New("missing number of value pairs")
)
