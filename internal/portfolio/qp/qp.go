// Package qp solves strictly convex quadratic programs
//
//	minimize    ½ x'Qx + c'x
//	subject to  lower_i <= a_i'x <= upper_i
//
// Rows with a single nonzero coefficient become variable bounds. The other rows
// are dualized: for multipliers y the bounded minimizer of the Lagrangian is a
// closed-form clip, so the solver runs a Newton method on the concave dual, one
// variable per general row, with an exact line search over the breakpoints of
// the clip. A Hessian given as diag(d) + FF' enters through extra unbounded
// variables f = F'x, which keeps every iteration linear in the number of assets.
package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInfeasible is returned when no x satisfies every row
var ErrInfeasible = errors.New("qp: problem is infeasible")

// NumericalError reports a solve that did not reach a stable optimum
type NumericalError struct {
	Iterations int
	Detail     string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("qp: numerical failure after %d iterations: %s", e.Iterations, e.Detail)
}

// Row is one two-sided linear constraint. Lower == Upper is an equality;
// an infinite bound leaves that side open.
type Row struct {
	Name   string
	Coeffs []float64
	Lower  float64
	Upper  float64
}

// Problem is a QP in the form above. The Hessian is either Diag with the
// optional low-rank Factors (n×k), or the dense positive definite Q.
type Problem struct {
	Q       *mat.SymDense
	Diag    []float64
	Factors *mat.Dense
	C       []float64
	Rows    []Row
}

// Options bounds the work done by Solve
type Options struct {
	MaxIter   int // raised to 2·(n + rows) for large problems
	Tolerance float64
}

// DefaultOptions returns the solver defaults
func DefaultOptions() Options {
	return Options{MaxIter: 500, Tolerance: 1e-9}
}

// Result is the optimum found by Solve
type Result struct {
	X          []float64
	Objective  float64
	Iterations int
	Active     []string // names of binding inequality rows
}

// Solve returns the minimizer of p
func Solve(p Problem, opts Options) (*Result, error) {
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}

	n := len(p.C)
	if err := validate(p, n); err != nil {
		return nil, err
	}
	diag, factors, err := hessian(p, n)
	if err != nil {
		return nil, err
	}

	s, err := newDual(n, diag, factors, p.C, p.Rows, opts.Tolerance)
	if err != nil {
		return nil, err
	}

	limit := opts.MaxIter
	if scaled := 2 * (n + len(p.Rows)); scaled > limit {
		limit = scaled
	}
	y, z, iterations, err := s.solve(limit)
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = clip(z[i], s.lo[i], s.hi[i])
	}
	obj := objective(diag, factors, p.C, x)
	if !finite(obj) {
		return nil, &NumericalError{Iterations: iterations, Detail: "non-finite objective"}
	}
	return &Result{X: x, Objective: obj, Iterations: iterations, Active: s.active(y, z)}, nil
}

// hessian returns Q as diag(d) + FF'. A dense Q is split as δI + LL' with
// δ half its smallest eigenvalue.
func hessian(p Problem, n int) ([]float64, *mat.Dense, error) {
	if p.Diag != nil {
		return p.Diag, p.Factors, nil
	}

	diag := make([]float64, n)
	dense := false
	for i := 0; i < n; i++ {
		diag[i] = p.Q.At(i, i)
		for j := i + 1; j < n; j++ {
			if p.Q.At(i, j) != 0 {
				dense = true
			}
		}
	}
	if !dense {
		for i, d := range diag {
			if d <= 0 {
				return nil, nil, &NumericalError{Detail: fmt.Sprintf("non-positive curvature at %d", i)}
			}
		}
		return diag, nil, nil
	}

	var eig mat.EigenSym
	if !eig.Factorize(p.Q, false) {
		return nil, nil, &NumericalError{Detail: "eigen decomposition of Q failed"}
	}
	smallest := eig.Values(nil)[0]
	if smallest <= 0 {
		return nil, nil, &NumericalError{Detail: fmt.Sprintf("Q is not positive definite (smallest eigenvalue %g)", smallest)}
	}
	delta := smallest / 2

	shifted := mat.NewSymDense(n, nil)
	shifted.CopySym(p.Q)
	for i := 0; i < n; i++ {
		shifted.SetSym(i, i, shifted.At(i, i)-delta)
	}
	var chol mat.Cholesky
	if !chol.Factorize(shifted) {
		return nil, nil, &NumericalError{Detail: "Cholesky factorization of Q failed"}
	}
	var l mat.TriDense
	chol.LTo(&l)

	for i := range diag {
		diag[i] = delta
	}
	return diag, mat.DenseCopyOf(&l), nil
}

func objective(diag []float64, factors *mat.Dense, c, x []float64) float64 {
	obj := floats.Dot(c, x)
	for i, d := range diag {
		obj += 0.5 * d * x[i] * x[i]
	}
	if factors != nil {
		_, k := factors.Dims()
		f := mat.NewVecDense(k, nil)
		f.MulVec(factors.T(), mat.NewVecDense(len(x), x))
		obj += 0.5 * mat.Dot(f, f)
	}
	return obj
}

func validate(p Problem, n int) error {
	if n == 0 {
		return errors.New("qp: empty problem")
	}
	for i := 0; i < n; i++ {
		if !finite(p.C[i]) {
			return &NumericalError{Detail: fmt.Sprintf("non-finite linear term at %d", i)}
		}
	}

	switch {
	case p.Diag != nil:
		if len(p.Diag) != n {
			return fmt.Errorf("qp: Diag has %d entries, want %d", len(p.Diag), n)
		}
		for i, d := range p.Diag {
			if !finite(d) {
				return &NumericalError{Detail: fmt.Sprintf("non-finite quadratic term at %d", i)}
			}
			if d <= 0 {
				return &NumericalError{Detail: fmt.Sprintf("non-positive curvature at %d", i)}
			}
		}
		if p.Factors != nil {
			r, k := p.Factors.Dims()
			if r != n {
				return fmt.Errorf("qp: Factors has %d rows, want %d", r, n)
			}
			for i := 0; i < r; i++ {
				for j := 0; j < k; j++ {
					if !finite(p.Factors.At(i, j)) {
						return &NumericalError{Detail: fmt.Sprintf("non-finite factor loading at (%d, %d)", i, j)}
					}
				}
			}
		}
	case p.Q != nil:
		if p.Q.SymmetricDim() != n {
			return fmt.Errorf("qp: Q must be %dx%d", n, n)
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				if !finite(p.Q.At(i, j)) {
					return &NumericalError{Detail: fmt.Sprintf("non-finite quadratic term at (%d, %d)", i, j)}
				}
			}
		}
	default:
		return errors.New("qp: problem has no Hessian")
	}

	for _, row := range p.Rows {
		if len(row.Coeffs) != n {
			return fmt.Errorf("qp: row %s has %d coefficients, want %d", row.Name, len(row.Coeffs), n)
		}
		if math.IsNaN(row.Lower) || math.IsNaN(row.Upper) {
			return fmt.Errorf("qp: row %s has a NaN bound", row.Name)
		}
		for _, v := range row.Coeffs {
			if !finite(v) {
				return &NumericalError{Detail: fmt.Sprintf("non-finite coefficient in row %s", row.Name)}
			}
		}
	}
	return nil
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
