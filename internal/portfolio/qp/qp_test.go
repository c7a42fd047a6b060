package qp

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func identity(n int, scale float64) *mat.SymDense {
	q := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		q.SetSym(i, i, scale)
	}
	return q
}

func TestSolve(t *testing.T) {
	inf := math.Inf(1)

	tests := []struct {
		name   string
		q      *mat.SymDense
		c      []float64
		rows   []Row
		want   []float64
		active []string
	}{
		{
			name: "unconstrained",
			q:    identity(2, 1),
			c:    []float64{-1, -2},
			want: []float64{1, 2},
		},
		{
			name: "budget equality",
			q:    identity(2, 2),
			c:    []float64{0, 0},
			rows: []Row{{Name: "budget", Coeffs: []float64{1, 1}, Lower: 1, Upper: 1}},
			want: []float64{0.5, 0.5},
		},
		{
			name: "redundant equalities",
			q:    identity(2, 2),
			c:    []float64{0, 0},
			rows: []Row{
				{Name: "a", Coeffs: []float64{1, 1}, Lower: 1, Upper: 1},
				{Name: "b", Coeffs: []float64{2, 2}, Lower: 2, Upper: 2},
			},
			want: []float64{0.5, 0.5},
		},
		{
			name:   "upper bound binds",
			q:      identity(2, 1),
			c:      []float64{-1, -2},
			rows:   []Row{{Name: "cap", Coeffs: []float64{0, 1}, Lower: math.Inf(-1), Upper: 1}},
			want:   []float64{1, 1},
			active: []string{"cap"},
		},
		{
			name: "lower bound binds with budget",
			q:    identity(3, 1),
			c:    []float64{-3, 0, 3},
			rows: []Row{
				{Name: "budget", Coeffs: []float64{1, 1, 1}, Lower: 1, Upper: 1},
				{Name: "floor", Coeffs: []float64{0, 0, 1}, Lower: 0, Upper: inf},
			},
			// with x3 fixed at 0: x1 + x2 = 1, x1 - 3 = x2 - 0 → x1 = 2, x2 = -1
			want:   []float64{2, -1, 0},
			active: []string{"floor"},
		},
		{
			name: "inactive bound",
			q:    identity(2, 1),
			c:    []float64{-1, -2},
			rows: []Row{{Name: "cap", Coeffs: []float64{0, 1}, Lower: -5, Upper: 5}},
			want: []float64{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Solve(Problem{Q: tt.q, C: tt.c, Rows: tt.rows}, DefaultOptions())
			require.NoError(t, err)
			require.Len(t, res.X, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], res.X[i], 1e-8, "x[%d]", i)
			}
			if tt.active != nil {
				assert.ElementsMatch(t, tt.active, res.Active)
			}
		})
	}
}

func TestSolve_Infeasible(t *testing.T) {
	inf := math.Inf(1)

	tests := []struct {
		name string
		rows []Row
	}{
		{
			name: "crossed half-spaces",
			rows: []Row{
				{Name: "floor", Coeffs: []float64{1, 0}, Lower: 2, Upper: inf},
				{Name: "cap", Coeffs: []float64{1, 0}, Lower: math.Inf(-1), Upper: 1},
			},
		},
		{
			name: "contradicting equalities",
			rows: []Row{
				{Name: "a", Coeffs: []float64{1, 1}, Lower: 1, Upper: 1},
				{Name: "b", Coeffs: []float64{2, 2}, Lower: 3, Upper: 3},
			},
		},
		{
			name: "lower above upper",
			rows: []Row{{Name: "bad", Coeffs: []float64{1, 0}, Lower: 1, Upper: 0}},
		},
		{
			name: "empty row outside bounds",
			rows: []Row{{Name: "empty", Coeffs: []float64{0, 0}, Lower: 1, Upper: 2}},
		},
		{
			name: "equality against half-space",
			rows: []Row{
				{Name: "budget", Coeffs: []float64{1, 1}, Lower: 0, Upper: 0},
				{Name: "x1", Coeffs: []float64{1, 0}, Lower: 0, Upper: inf},
				{Name: "x2", Coeffs: []float64{0, 1}, Lower: 0.5, Upper: inf},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(Problem{Q: identity(2, 1), C: []float64{-1, -2}, Rows: tt.rows}, DefaultOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInfeasible), "got %v", err)
		})
	}
}

func TestSolve_NumericalFailure(t *testing.T) {
	q := identity(2, 1)
	q.SetSym(0, 1, math.NaN())

	_, err := Solve(Problem{Q: q, C: []float64{0, 0}}, DefaultOptions())

	var numErr *NumericalError
	require.ErrorAs(t, err, &numErr)
	assert.Contains(t, numErr.Detail, "non-finite")
}

func TestSolve_DimensionMismatch(t *testing.T) {
	_, err := Solve(Problem{
		Q:    identity(2, 1),
		C:    []float64{0, 0},
		Rows: []Row{{Name: "short", Coeffs: []float64{1}, Lower: 0, Upper: 0}},
	}, DefaultOptions())
	assert.ErrorContains(t, err, "coefficients")
}

func TestSolve_Deterministic(t *testing.T) {
	p := Problem{
		Q: identity(4, 0.5),
		C: []float64{-0.3, 0.1, -0.2, 0.4},
		Rows: []Row{
			{Name: "budget", Coeffs: []float64{1, 1, 1, 1}, Lower: 1, Upper: 1},
			{Name: "x1", Coeffs: []float64{1, 0, 0, 0}, Lower: 0, Upper: 0.3},
			{Name: "x4", Coeffs: []float64{0, 0, 0, 1}, Lower: 0, Upper: 0.3},
		},
	}

	first, err := Solve(p, DefaultOptions())
	require.NoError(t, err)
	second, err := Solve(p, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first.X, second.X)
	assert.InDelta(t, 1.0, first.X[0]+first.X[1]+first.X[2]+first.X[3], 1e-9)
	assert.LessOrEqual(t, first.X[0], 0.3+1e-9)
	assert.GreaterOrEqual(t, first.X[3], -1e-9)
}

func TestSolve_DenseHessian(t *testing.T) {
	q := mat.NewSymDense(2, []float64{2, 1, 1, 2})

	res, err := Solve(Problem{Q: q, C: []float64{-1, -1}}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, res.X[0], 1e-9)
	assert.InDelta(t, 1.0/3, res.X[1], 1e-9)
	assert.InDelta(t, -1.0/3, res.Objective, 1e-9)

	// with x1 held at 0.2: 2·x2 + 0.2 − 1 = 0
	res, err = Solve(Problem{
		Q:    q,
		C:    []float64{-1, -1},
		Rows: []Row{{Name: "cap", Coeffs: []float64{1, 0}, Lower: math.Inf(-1), Upper: 0.2}},
	}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.X[0], 1e-9)
	assert.InDelta(t, 0.4, res.X[1], 1e-9)
	assert.Equal(t, []string{"cap"}, res.Active)
}

func TestSolve_FactorsMatchDense(t *testing.T) {
	diag := []float64{1, 2, 3}
	loadings := mat.NewDense(3, 1, []float64{0.5, 1, -0.5})

	var full mat.SymDense
	full.SymOuterK(1, loadings)
	for i, d := range diag {
		full.SetSym(i, i, full.At(i, i)+d)
	}

	c := []float64{-1, 0.5, 0.2}
	rows := []Row{
		{Name: "budget", Coeffs: []float64{1, 1, 1}, Lower: 1, Upper: 1},
		{Name: "box[0]", Coeffs: []float64{1, 0, 0}, Lower: -0.3, Upper: 0.6},
		{Name: "box[1]", Coeffs: []float64{0, 1, 0}, Lower: -0.3, Upper: 0.6},
		{Name: "box[2]", Coeffs: []float64{0, 0, 1}, Lower: -0.3, Upper: 0.6},
	}

	structured, err := Solve(Problem{Diag: diag, Factors: loadings, C: c, Rows: rows}, DefaultOptions())
	require.NoError(t, err)
	dense, err := Solve(Problem{Q: &full, C: c, Rows: rows}, DefaultOptions())
	require.NoError(t, err)

	for i := range structured.X {
		assert.InDelta(t, dense.X[i], structured.X[i], 1e-8, "x[%d]", i)
	}
	assert.InDelta(t, dense.Objective, structured.Objective, 1e-10)
	assert.InDelta(t, 1.0, structured.X[0]+structured.X[1]+structured.X[2], 1e-9)
}

func TestSolve_RangeRow(t *testing.T) {
	// minimize ½‖x − (1, 1)‖² with 0 ≤ x1 + x2 ≤ 1
	res, err := Solve(Problem{
		Diag: []float64{1, 1},
		C:    []float64{-1, -1},
		Rows: []Row{{Name: "band", Coeffs: []float64{1, 1}, Lower: 0, Upper: 1}},
	}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.X[0], 1e-9)
	assert.InDelta(t, 0.5, res.X[1], 1e-9)
	assert.Equal(t, []string{"band"}, res.Active)
}

func TestSolve_ManyBoundedVariables(t *testing.T) {
	const n = 800
	diag := make([]float64, n)
	c := make([]float64, n)
	budget := make([]float64, n)
	beta := make([]float64, n)
	rows := make([]Row, 0, n+2)
	for i := 0; i < n; i++ {
		diag[i] = 0.1 + 0.05*float64(i%5)
		c[i] = -0.02 * math.Cos(float64(i)*1.3)
		budget[i] = 1
		beta[i] = 0.5 + float64(i%9)/9
		coeffs := make([]float64, n)
		coeffs[i] = 1
		rows = append(rows, Row{Name: "box", Coeffs: coeffs, Lower: -0.01, Upper: 0.01})
	}
	rows = append(rows,
		Row{Name: "budget", Coeffs: budget, Lower: 0, Upper: 0},
		Row{Name: "beta", Coeffs: beta, Lower: 0, Upper: 0},
	)

	res, err := Solve(Problem{Diag: diag, C: c, Rows: rows}, DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, res.Iterations, 100)
	assert.Equal(t, []string{"box"}, res.Active)

	sum, exposure := 0.0, 0.0
	for i, x := range res.X {
		sum += x
		exposure += beta[i] * x
		assert.LessOrEqual(t, math.Abs(x), 0.01+1e-12)
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
	assert.InDelta(t, 0.0, exposure, 1e-9)
}

func TestSolve_InfeasibleGeneralRows(t *testing.T) {
	// x1 + x2 ≥ 1 and x1 − x2 ≥ 1 force x1 ≥ 1, which the cap forbids
	_, err := Solve(Problem{
		Diag: []float64{1, 1},
		C:    []float64{0, 0},
		Rows: []Row{
			{Name: "sum", Coeffs: []float64{1, 1}, Lower: 1, Upper: math.Inf(1)},
			{Name: "diff", Coeffs: []float64{1, -1}, Lower: 1, Upper: math.Inf(1)},
			{Name: "cap", Coeffs: []float64{1, 0}, Lower: math.Inf(-1), Upper: 0.5},
		},
	}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInfeasible)
}
