package conversion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	// RawSymbol is the raw memory value in a compu method function.
	RawSymbol = "Q"
	// PhysSymbol is the physical value in a compu method function.
	PhysSymbol = "V"
)

// Identity is the function used when a variable declares no conversion.
const Identity Formula = "Q=V"

var ErrNoPhysSymbol = errors.New("formula does not reference V")

// Formula is a compu method function of the form "Q = f(V)".
type Formula string

func (f Formula) String() string { return string(f) }

func (f Formula) clean() string {
	return strings.ReplaceAll(string(f), `"`, "")
}

// ReadEquation builds "<raw> = f(V)" from everything after Q.
func (f Formula) ReadEquation(raw float64) string {
	s := f.clean()
	i := strings.Index(s, RawSymbol)
	return formatValue(raw) + s[i+1:]
}

// WriteEquation substitutes the physical value for every V in the function,
// leaving an equation in Q.
func (f Formula) WriteEquation(phys float64) (string, error) {
	s, n := substitute(f.clean(), PhysSymbol, formatValue(phys))
	if n == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoPhysSymbol, string(f))
	}
	return s, nil
}

// Physical converts a decoded raw value to its physical value.
func (f Formula) Physical(raw float64) (float64, error) {
	return Solve(f.ReadEquation(raw), PhysSymbol)
}

// Raw converts a physical value to the raw value to store. A negative zero
// result is returned as 0.
func (f Formula) Raw(phys float64) (float64, error) {
	eq, err := f.WriteEquation(phys)
	if err != nil {
		return 0, err
	}
	q, err := Solve(eq, RawSymbol)
	if err != nil {
		return 0, err
	}
	if q == 0 {
		return 0, nil
	}
	return q, nil
}

func formatValue(v float64) string {
	return "(" + strconv.FormatFloat(v, 'g', -1, 64) + ")"
}

// substitute replaces whole identifier tokens equal to name.
func substitute(s, name, value string) (string, int) {
	var b strings.Builder
	runes := []rune(s)
	count := 0
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			j := scanNumber(runes, i)
			b.WriteString(string(runes[i:j]))
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			ident := string(runes[i:j])
			if ident == name {
				b.WriteString(value)
				count++
			} else {
				b.WriteString(ident)
			}
			i = j
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String(), count
}
