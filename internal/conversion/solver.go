package conversion

import (
	"errors"
	"fmt"
	"math/cmplx"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrSyntax            = errors.New("formula syntax error")
	ErrUnknownIdentifier = errors.New("unknown identifier in formula")
)

// Solve returns the value of symbol that satisfies "LHS = RHS".
//
// Both sides are evaluated with symbol bound to the imaginary unit, so
// LHS-RHS reduces to b + a·i and the root is -b/a. The answer is exact only
// when the equation is affine in symbol. Non-affine or degenerate equations
// still produce a number (possibly ±Inf or NaN) and no error.
func Solve(equation, symbol string) (float64, error) {
	lhs, rhs, ok := strings.Cut(strings.ReplaceAll(equation, `"`, ""), "=")
	if !ok {
		return 0, fmt.Errorf("%w: missing '=' in %q", ErrSyntax, equation)
	}
	if strings.Contains(rhs, "=") {
		return 0, fmt.Errorf("%w: more than one '=' in %q", ErrSyntax, equation)
	}

	bindings := map[string]complex128{symbol: 1i}
	left, err := evaluate(lhs, bindings)
	if err != nil {
		return 0, err
	}
	right, err := evaluate(rhs, bindings)
	if err != nil {
		return 0, err
	}

	c := left - right
	return -real(c) / imag(c), nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := scanNumber(runes, i)
			tokens = append(tokens, token{tokNumber, string(runes[i:j])})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			tokens = append(tokens, token{tokOp, "**"})
			i += 2
		case strings.ContainsRune("+-*/^()", r):
			tokens = append(tokens, token{tokOp, string(r)})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, string(r))
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

// scanNumber returns the end index of the numeric literal starting at i.
func scanNumber(runes []rune, i int) int {
	j := i
	for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
		j++
	}
	if j < len(runes) && (runes[j] == 'e' || runes[j] == 'E') {
		k := j + 1
		if k < len(runes) && (runes[k] == '+' || runes[k] == '-') {
			k++
		}
		if k < len(runes) && unicode.IsDigit(runes[k]) {
			for k < len(runes) && unicode.IsDigit(runes[k]) {
				k++
			}
			j = k
		}
	}
	return j
}

type evaluator struct {
	tokens   []token
	pos      int
	bindings map[string]complex128
}

func evaluate(expr string, bindings map[string]complex128) (complex128, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	e := &evaluator{tokens: tokens, bindings: bindings}
	v, err := e.expr()
	if err != nil {
		return 0, err
	}
	if t := e.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q in %q", ErrSyntax, t.text, expr)
	}
	return v, nil
}

func (e *evaluator) peek() token { return e.tokens[e.pos] }

func (e *evaluator) next() token {
	t := e.tokens[e.pos]
	if t.kind != tokEOF {
		e.pos++
	}
	return t
}

func (e *evaluator) isOp(ops ...string) bool {
	t := e.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (e *evaluator) expr() (complex128, error) {
	v, err := e.term()
	if err != nil {
		return 0, err
	}
	for e.isOp("+", "-") {
		op := e.next().text
		rhs, err := e.term()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += rhs
		} else {
			v -= rhs
		}
	}
	return v, nil
}

func (e *evaluator) term() (complex128, error) {
	v, err := e.unary()
	if err != nil {
		return 0, err
	}
	for e.isOp("*", "/") {
		op := e.next().text
		rhs, err := e.unary()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			v *= rhs
		} else {
			v /= rhs
		}
	}
	return v, nil
}

func (e *evaluator) unary() (complex128, error) {
	if e.isOp("+", "-") {
		op := e.next().text
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return e.power()
}

// power binds tighter than unary minus on its left and is right-associative.
func (e *evaluator) power() (complex128, error) {
	base, err := e.primary()
	if err != nil {
		return 0, err
	}
	if e.isOp("**", "^") {
		e.next()
		exp, err := e.unary()
		if err != nil {
			return 0, err
		}
		return cmplx.Pow(base, exp), nil
	}
	return base, nil
}

func (e *evaluator) primary() (complex128, error) {
	t := e.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return complex(f, 0), nil
	case tokIdent:
		v, ok := e.bindings[t.text]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownIdentifier, t.text)
		}
		return v, nil
	case tokOp:
		if t.text == "(" {
			v, err := e.expr()
			if err != nil {
				return 0, err
			}
			if !e.isOp(")") {
				return 0, fmt.Errorf("%w: missing ')'", ErrSyntax)
			}
			e.next()
			return v, nil
		}
	}
	if t.kind == tokEOF {
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
}
