package conversion

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func TestSolveAffineProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a := rng.Float64()*200 - 100
		if math.Abs(a) < 1e-3 {
			continue
		}
		b := rng.Float64()*2000 - 1000
		c := rng.Float64()*2000 - 1000

		eq := fmt.Sprintf("%v=%v*V+%v", c, a, b)
		got, err := Solve(eq, "V")
		if err != nil {
			t.Fatalf("Solve(%q) error: %v", eq, err)
		}
		want := (c - b) / a
		if math.Abs(got-want) > 1e-9*math.Max(1, math.Abs(want)) {
			t.Fatalf("Solve(%q) = %v, want %v", eq, got, want)
		}
	}
}

func TestSolve(t *testing.T) {
	tests := []struct {
		name   string
		eq     string
		symbol string
		want   float64
	}{
		{"identity", "(7)=V", "V", 7},
		{"scaled", "100 = V*2", "V", 50},
		{"offset and scale", "Q = 0.1*(40) - 40", "Q", -36},
		{"division", "10=(V-2)/4", "V", 42},
		{"nested parens", "(3) = ((V + 1) * (2))", "V", 0.5},
		{"unary minus", "-5 = -V", "V", 5},
		{"quoted", `"Q = (3)*2"`, "Q", 6},
		{"exponent literal", "2e3 = V", "V", 2000},
		{"constant power", "Q = 2**3 * (1)", "Q", 8},
		{"caret power", "Q = 2^2 * (1)", "Q", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Solve(tt.eq, tt.symbol)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Solve(%q) = %v, want %v", tt.eq, got, tt.want)
			}
		})
	}
}

func TestSolveNonAffineIsSilent(t *testing.T) {
	// V*V evaluates to -1 at V = i, which has no imaginary part.
	got, err := Solve("4 = V*V", "V")
	if err != nil {
		t.Fatalf("non-affine equation must not fail, got %v", err)
	}
	if got == 2 {
		t.Errorf("unexpectedly exact answer %v", got)
	}
}

func TestSolveErrors(t *testing.T) {
	tests := []struct {
		name string
		eq   string
		want error
	}{
		{"no equals", "V*2", ErrSyntax},
		{"two equals", "Q=V=2", ErrSyntax},
		{"dangling operator", "Q = 2*", ErrSyntax},
		{"unbalanced", "Q = (3*2", ErrSyntax},
		{"bad char", "Q = V % 2", ErrSyntax},
		{"unknown identifier", "Q = X*2", ErrUnknownIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(tt.eq, "Q")
			if !errors.Is(err, tt.want) {
				t.Errorf("Solve(%q) error = %v, want %v", tt.eq, err, tt.want)
			}
		})
	}
}
