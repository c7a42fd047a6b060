package qp

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// dual is the Lagrangian dual of a QP with Hessian diag(d).
//
// Every general row j gets a slack s_j in [rlo_j, rhi_j] with a_j'x = s_j.
// Inequality slacks carry the curvature eps so the dual stays differentiable;
// the bias this puts on x is of order eps and far below the tolerance.
type dual struct {
	n              int // caller variables; lifted factor variables follow
	d, c           []float64
	lo, hi         []float64
	loName, hiName []string

	rows             [][]float64
	rlo, rhi         []float64
	rloName, rhiName []string
	eq               []bool

	eps   float64
	tol   float64
	scale float64 // 1 + largest finite row bound
}

func newDual(n int, diag []float64, factors *mat.Dense, c []float64, rows []Row, tol float64) (*dual, error) {
	k := 0
	if factors != nil {
		_, k = factors.Dims()
	}
	total := n + k

	s := &dual{
		n:      n,
		d:      make([]float64, total),
		c:      make([]float64, total),
		lo:     make([]float64, total),
		hi:     make([]float64, total),
		loName: make([]string, total),
		hiName: make([]string, total),
		tol:    tol,
		scale:  1,
	}
	copy(s.d, diag)
	copy(s.c, c)
	for i := range s.lo {
		s.lo[i], s.hi[i] = math.Inf(-1), math.Inf(1)
		if i >= n {
			s.d[i] = 1
		}
	}

	// 1. Single-coefficient rows become bounds
	general := make([]Row, 0, len(rows)+k)
	for _, row := range rows {
		if row.Lower > row.Upper+tol*(1+math.Abs(row.Upper)) {
			return nil, fmt.Errorf("%w: row %s has lower bound %g above upper bound %g",
				ErrInfeasible, row.Name, row.Lower, row.Upper)
		}
		nonzero, at := 0, -1
		for i, v := range row.Coeffs {
			if v != 0 {
				nonzero++
				at = i
			}
		}
		switch nonzero {
		case 0:
			if row.Lower > tol || row.Upper < -tol {
				return nil, fmt.Errorf("%w: row %s is empty but requires [%g, %g]",
					ErrInfeasible, row.Name, row.Lower, row.Upper)
			}
		case 1:
			s.bound(at, row)
		default:
			coeffs := make([]float64, total)
			copy(coeffs, row.Coeffs)
			general = append(general, Row{Name: row.Name, Coeffs: coeffs, Lower: row.Lower, Upper: row.Upper})
		}
	}
	for i := 0; i < n; i++ {
		if s.lo[i] <= s.hi[i] {
			continue
		}
		if s.lo[i] > s.hi[i]+tol*(1+math.Abs(s.hi[i])) {
			return nil, fmt.Errorf("%w: %s and %s leave no value for variable %d",
				ErrInfeasible, s.loName[i], s.hiName[i], i)
		}
		s.lo[i] = s.hi[i]
	}

	// 2. Factor rows tie the lifted variables to x: F'x − f = 0
	for j := 0; j < k; j++ {
		coeffs := make([]float64, total)
		for i := 0; i < n; i++ {
			coeffs[i] = factors.At(i, j)
		}
		coeffs[n+j] = -1
		general = append(general, Row{Name: fmt.Sprintf("factor[%d]", j), Coeffs: coeffs})
	}

	if err := s.addRows(general); err != nil {
		return nil, err
	}

	smallest := 1.0
	for _, d := range s.d {
		smallest = math.Min(smallest, d)
	}
	s.eps = 1e-12 * smallest
	return s, nil
}

// bound intersects variable i's interval with a single-coefficient row
func (s *dual) bound(i int, row Row) {
	a := row.Coeffs[i]
	lo, hi := row.Lower/a, row.Upper/a
	if a < 0 {
		lo, hi = hi, lo
	}
	if lo > s.lo[i] {
		s.lo[i], s.loName[i] = lo, row.Name
	}
	if hi < s.hi[i] {
		s.hi[i], s.hiName[i] = hi, row.Name
	}
}

// mergedRow is a general row scaled so its leading coefficient is 1
type mergedRow struct {
	lead           int
	coeffs         []float64
	lo, hi         float64
	loName, hiName string
}

// addRows merges parallel rows, drops dependent equalities and checks that
// every row can be met inside the variable bounds
func (s *dual) addRows(general []Row) error {
	tol := s.tol

	merged := make([]mergedRow, 0, len(general))
	for _, row := range general {
		lead := 0
		for row.Coeffs[lead] == 0 {
			lead++
		}
		scale := row.Coeffs[lead]
		coeffs := make([]float64, len(row.Coeffs))
		floats.ScaleTo(coeffs, 1/scale, row.Coeffs)
		lo, hi := row.Lower/scale, row.Upper/scale
		if scale < 0 {
			lo, hi = hi, lo
		}

		found := false
		for m := range merged {
			if merged[m].lead != lead || !floats.EqualApprox(merged[m].coeffs, coeffs, 1e-12) {
				continue
			}
			if lo > merged[m].lo {
				merged[m].lo, merged[m].loName = lo, row.Name
			}
			if hi < merged[m].hi {
				merged[m].hi, merged[m].hiName = hi, row.Name
			}
			found = true
			break
		}
		if !found {
			merged = append(merged, mergedRow{lead: lead, coeffs: coeffs, lo: lo, hi: hi, loName: row.Name, hiName: row.Name})
		}
	}

	var (
		eqRows  [][]float64
		eqRHS   []float64
		eqNames []string
		eqAt    []int
	)
	for m := range merged {
		r := &merged[m]
		if r.lo > r.hi+tol*(1+math.Abs(r.hi)) {
			return fmt.Errorf("%w: %s and %s cannot both hold", ErrInfeasible, r.loName, r.hiName)
		}
		if isEquality(r.lo, r.hi, tol) {
			r.hi = r.lo
			eqRows = append(eqRows, r.coeffs)
			eqRHS = append(eqRHS, r.lo)
			eqNames = append(eqNames, r.loName)
			eqAt = append(eqAt, m)
		}
	}
	keep, err := independentRows(eqRows, eqRHS, eqNames, tol)
	if err != nil {
		return err
	}
	dependent := make(map[int]bool, len(eqAt))
	for _, m := range eqAt {
		dependent[m] = true
	}
	for _, k := range keep {
		dependent[eqAt[k]] = false
	}

	for m, r := range merged {
		if dependent[m] {
			continue
		}
		lo, hi := s.reach(r.coeffs)
		if lo > r.hi+tol*(1+math.Abs(r.hi)) || hi < r.lo-tol*(1+math.Abs(r.lo)) {
			return fmt.Errorf("%w: %s cannot be met within the variable bounds", ErrInfeasible, r.loName)
		}

		s.rows = append(s.rows, r.coeffs)
		s.rlo = append(s.rlo, r.lo)
		s.rhi = append(s.rhi, r.hi)
		s.rloName = append(s.rloName, r.loName)
		s.rhiName = append(s.rhiName, r.hiName)
		s.eq = append(s.eq, r.lo == r.hi)
		for _, b := range []float64{r.lo, r.hi} {
			if finite(b) {
				s.scale = math.Max(s.scale, 1+math.Abs(b))
			}
		}
	}
	return nil
}

// reach returns the range of coeffs·x over the variable bounds
func (s *dual) reach(coeffs []float64) (float64, float64) {
	lo, hi := 0.0, 0.0
	for i, a := range coeffs {
		switch {
		case a > 0:
			lo += a * s.lo[i]
			hi += a * s.hi[i]
		case a < 0:
			lo += a * s.hi[i]
			hi += a * s.lo[i]
		}
	}
	return lo, hi
}

// solve maximizes the dual with Newton steps. It returns the multipliers and
// the unclipped minimizer z; the primal solution is z clipped to the bounds.
func (s *dual) solve(limit int) ([]float64, []float64, int, error) {
	m := len(s.rows)
	y := make([]float64, m)
	z := s.minimizer(y)
	target := 1e-2 * s.tol * s.scale
	loose := s.tol * s.scale

	for iter := 0; ; iter++ {
		r := s.residual(y, z)
		res := 0.0
		for _, v := range r {
			res = math.Max(res, math.Abs(v))
		}
		if res <= target {
			return y, z, iter, nil
		}
		if iter == limit {
			if res <= loose {
				return y, z, iter, nil
			}
			return nil, nil, iter, &NumericalError{Iterations: iter, Detail: fmt.Sprintf("iteration limit reached (residual %g)", res)}
		}

		dir, err := s.direction(y, z, r)
		if err != nil {
			return nil, nil, iter, &NumericalError{Iterations: iter, Detail: err.Error()}
		}
		t, unbounded := s.lineSearch(y, z, dir)
		switch {
		case unbounded:
			if res <= loose {
				return y, z, iter, nil
			}
			return nil, nil, iter, fmt.Errorf("%w: the constraint rows admit no common point", ErrInfeasible)
		case !(t > 0) || !finite(t):
			if res <= loose {
				return y, z, iter, nil
			}
			return nil, nil, iter, &NumericalError{Iterations: iter, Detail: fmt.Sprintf("line search stalled (residual %g)", res)}
		}

		floats.AddScaled(y, t, dir)
		z = s.minimizer(y)
	}
}

// minimizer returns z = (A'y − c) / d
func (s *dual) minimizer(y []float64) []float64 {
	z := make([]float64, len(s.c))
	floats.ScaleTo(z, -1, s.c)
	for j, row := range s.rows {
		if y[j] != 0 {
			floats.AddScaled(z, y[j], row)
		}
	}
	floats.Div(z, s.d)
	return z
}

func (s *dual) slack(j int, yj float64) float64 {
	if s.eq[j] {
		return s.rlo[j]
	}
	return clip(-yj/s.eps, s.rlo[j], s.rhi[j])
}

// residual is the dual gradient s − Ax
func (s *dual) residual(y, z []float64) []float64 {
	x := make([]float64, len(z))
	for i := range z {
		x[i] = clip(z[i], s.lo[i], s.hi[i])
	}
	r := make([]float64, len(s.rows))
	for j, row := range s.rows {
		r[j] = s.slack(j, y[j]) - floats.Dot(row, x)
	}
	return r
}

// direction solves (H + μI) Δ = r with H the dual curvature on the current
// free set
func (s *dual) direction(y, z, r []float64) ([]float64, error) {
	m := len(s.rows)
	h := make([]float64, m*m)
	for i, zi := range z {
		if !(s.lo[i] < zi && zi < s.hi[i]) {
			continue
		}
		inv := 1 / s.d[i]
		for j := 0; j < m; j++ {
			aj := s.rows[j][i]
			if aj == 0 {
				continue
			}
			aj *= inv
			for k := j; k < m; k++ {
				h[j*m+k] += aj * s.rows[k][i]
			}
		}
	}

	largest := 0.0
	for j := 0; j < m; j++ {
		largest = math.Max(largest, h[j*m+j])
	}
	mu := 1e-12 * (1 + largest)
	for j := 0; j < m; j++ {
		h[j*m+j] += mu
		if w := -y[j] / s.eps; !s.eq[j] && s.rlo[j] < w && w < s.rhi[j] {
			h[j*m+j] += 1 / s.eps
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(m, h)) {
		return nil, errors.New("dual Hessian is not positive definite")
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, mat.NewVecDense(m, r)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("dual Newton step: %w", err)
		}
	}

	dir := make([]float64, m)
	for j := range dir {
		dir[j] = step.AtVec(j)
		if !finite(dir[j]) {
			return nil, errors.New("non-finite dual Newton step")
		}
	}
	return dir, nil
}

// lineSearch maximizes the dual along dir. The directional derivative is
// piecewise linear and non-increasing in t, with kinks where a variable or
// slack reaches a bound, so its root is found by bisection over the kinks and
// interpolation inside one segment. unbounded reports a derivative that stays
// positive forever, which certifies an infeasible primal.
func (s *dual) lineSearch(y, z, dir []float64) (t float64, unbounded bool) {
	v := make([]float64, len(z))
	for j, row := range s.rows {
		if dir[j] != 0 {
			floats.AddScaled(v, dir[j], row)
		}
	}
	rate := make([]float64, len(z))
	floats.DivTo(rate, v, s.d)

	slope := func(t float64) float64 {
		sum := 0.0
		for j := range s.rows {
			if dir[j] != 0 {
				sum += dir[j] * s.slack(j, y[j]+t*dir[j])
			}
		}
		for i, vi := range v {
			if vi != 0 {
				sum -= vi * clip(z[i]+t*rate[i], s.lo[i], s.hi[i])
			}
		}
		return sum
	}

	var kinks []float64
	add := func(start, speed, bound float64) {
		if speed == 0 || math.IsInf(bound, 0) {
			return
		}
		if t := (bound - start) / speed; t > 0 && finite(t) {
			kinks = append(kinks, t)
		}
	}
	for i := range z {
		if rate[i] != 0 {
			add(z[i], rate[i], s.lo[i])
			add(z[i], rate[i], s.hi[i])
		}
	}
	for j := range s.rows {
		if s.eq[j] || dir[j] == 0 {
			continue
		}
		add(-y[j]/s.eps, -dir[j]/s.eps, s.rlo[j])
		add(-y[j]/s.eps, -dir[j]/s.eps, s.rhi[j])
	}
	sort.Float64s(kinks)

	f0 := slope(0)
	if !(f0 > 0) {
		return 0, false
	}

	k := sort.Search(len(kinks), func(i int) bool { return slope(kinks[i]) <= 0 })
	ta, fa := 0.0, f0
	if k > 0 {
		ta, fa = kinks[k-1], slope(kinks[k-1])
	}
	if k < len(kinks) {
		tb, fb := kinks[k], slope(kinks[k])
		if !(fa > fb) {
			return tb, false
		}
		return ta + fa/(fa-fb)*(tb-ta), false
	}

	// past the last kink only variables unbounded in their direction bend the slope
	curv := 0.0
	for i, vi := range v {
		if (rate[i] > 0 && math.IsInf(s.hi[i], 1)) || (rate[i] < 0 && math.IsInf(s.lo[i], -1)) {
			curv += vi * vi / s.d[i]
		}
	}
	for j := range s.rows {
		if s.eq[j] || dir[j] == 0 {
			continue
		}
		if (dir[j] < 0 && math.IsInf(s.rhi[j], 1)) || (dir[j] > 0 && math.IsInf(s.rlo[j], -1)) {
			curv += dir[j] * dir[j] / s.eps
		}
	}
	if curv == 0 {
		return 0, true
	}
	return ta + fa/curv, false
}

// active names the bounds and inequality rows that bind at the solution
func (s *dual) active(y, z []float64) []string {
	out := make([]string, 0)
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for i := 0; i < s.n; i++ {
		switch {
		case z[i] < s.lo[i]:
			add(s.loName[i])
		case z[i] > s.hi[i]:
			add(s.hiName[i])
		}
	}
	for j := range s.rows {
		if s.eq[j] {
			continue
		}
		switch w := -y[j] / s.eps; {
		case w < s.rlo[j]:
			add(s.rloName[j])
		case w > s.rhi[j]:
			add(s.rhiName[j])
		}
	}
	return out
}

// independentRows drops linearly dependent equality rows (modified Gram-Schmidt),
// failing when a dependent row contradicts the rows it depends on.
func independentRows(rows [][]float64, rhs []float64, names []string, tol float64) ([]int, error) {
	basis := make([][]float64, 0, len(rows))
	basisRHS := make([]float64, 0, len(rows))
	keep := make([]int, 0, len(rows))

	for i, row := range rows {
		v := append([]float64(nil), row...)
		r := rhs[i]
		for k, q := range basis {
			c := floats.Dot(v, q)
			floats.AddScaled(v, -c, q)
			r -= c * basisRHS[k]
		}

		norm := floats.Norm(v, 2)
		if norm <= 1e-10*math.Max(1, floats.Norm(row, 2)) {
			if math.Abs(r) > tol*math.Max(1, math.Abs(rhs[i]))*1e3 {
				return nil, fmt.Errorf("%w: equality %s contradicts earlier equalities", ErrInfeasible, names[i])
			}
			continue
		}

		floats.Scale(1/norm, v)
		basis = append(basis, v)
		basisRHS = append(basisRHS, r/norm)
		keep = append(keep, i)
	}
	return keep, nil
}

func isEquality(lo, hi, tol float64) bool {
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return false
	}
	return math.Abs(hi-lo) <= tol*(1+math.Abs(lo))
}
