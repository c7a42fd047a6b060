package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// Constraint contributes linear rows on the decision vector of one date
// ⭐ SSOT: 포트폴리오 제약조건은 여기서만
//
// Implementations are stateless values; Apply is called once per date with the
// variable and that date's aligned auxiliary data.
type Constraint interface {
	Name() string
	Apply(w Variable, aux AuxData) ([]LinearConstraint, error)
}

// Variable is the weight vector being optimized
type Variable struct {
	N int
}

// Expr is a linear expression over a Variable
type Expr struct {
	Coeffs []float64
}

// Dot returns coeffs·w
func (v Variable) Dot(coeffs []float64) Expr {
	return Expr{Coeffs: append([]float64(nil), coeffs...)}
}

// Sum returns 1'w
func (v Variable) Sum() Expr {
	c := make([]float64, v.N)
	for i := range c {
		c[i] = 1
	}
	return Expr{Coeffs: c}
}

// At returns w_i
func (v Variable) At(i int) Expr {
	c := make([]float64, v.N)
	c[i] = 1
	return Expr{Coeffs: c}
}

// Eq builds expr == rhs
func (e Expr) Eq(rhs float64) LinearConstraint {
	return LinearConstraint{Coeffs: e.Coeffs, Lower: rhs, Upper: rhs}
}

// Ge builds expr >= lower
func (e Expr) Ge(lower float64) LinearConstraint {
	return LinearConstraint{Coeffs: e.Coeffs, Lower: lower, Upper: math.Inf(1)}
}

// Le builds expr <= upper
func (e Expr) Le(upper float64) LinearConstraint {
	return LinearConstraint{Coeffs: e.Coeffs, Lower: math.Inf(-1), Upper: upper}
}

// Between builds lower <= expr <= upper
func (e Expr) Between(lower, upper float64) LinearConstraint {
	return LinearConstraint{Coeffs: e.Coeffs, Lower: lower, Upper: upper}
}

// LinearConstraint is lower <= coeffs·w <= upper
type LinearConstraint struct {
	Name   string
	Coeffs []float64
	Lower  float64
	Upper  float64
}

// Named sets the row name used in solver diagnostics
func (c LinearConstraint) Named(name string) LinearConstraint {
	c.Name = name
	return c
}

// IsEquality reports whether the row pins the expression to a single value
func (c LinearConstraint) IsEquality() bool {
	return c.Lower == c.Upper
}

// AuxData carries per-date arrays aligned to the decision order
type AuxData map[string][]float64

// Require returns aux[key], failing with a ConfigurationError when it is
// missing or not aligned with n assets
func (a AuxData) Require(constraint, key string, n int) ([]float64, error) {
	values, ok := a[key]
	if !ok || values == nil {
		return nil, &contracts.ConfigurationError{
			Constraint: constraint,
			Reason:     fmt.Sprintf("auxiliary data %q is not available", key),
		}
	}
	if len(values) != n {
		return nil, &contracts.ConfigurationError{
			Constraint: constraint,
			Reason:     fmt.Sprintf("auxiliary data %q has %d values for %d assets", key, len(values), n),
		}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &contracts.ConfigurationError{
				Constraint: constraint,
				Reason:     fmt.Sprintf("auxiliary data %q has a non-finite value at position %d", key, i),
			}
		}
	}
	return values, nil
}

// AuxRequirer is implemented by constraints and risk models that read
// auxiliary series from the universe
type AuxRequirer interface {
	RequiredAux() []string
}

// NeedsAux reports whether a constraint in the set or the risk model reads key
func NeedsAux(key string, constraints []Constraint, risk RiskModel) bool {
	readers := make([]interface{}, 0, len(constraints)+1)
	for _, c := range constraints {
		readers = append(readers, c)
	}
	readers = append(readers, risk)
	for _, r := range readers {
		req, ok := r.(AuxRequirer)
		if !ok {
			continue
		}
		for _, k := range req.RequiredAux() {
			if k == key {
				return true
			}
		}
	}
	return false
}

// ZeroBeta neutralizes predicted beta exposure: betas·w == 0
type ZeroBeta struct{}

func (ZeroBeta) Name() string { return "zero_beta" }

func (ZeroBeta) RequiredAux() []string { return []string{contracts.AuxBetas} }

func (c ZeroBeta) Apply(w Variable, aux AuxData) ([]LinearConstraint, error) {
	betas, err := aux.Require(c.Name(), contracts.AuxBetas, w.N)
	if err != nil {
		return nil, err
	}
	return []LinearConstraint{w.Dot(betas).Eq(0).Named(c.Name())}, nil
}

// BetaBounds keeps beta exposure within [Lower, Upper]
type BetaBounds struct {
	Lower float64
	Upper float64
}

func (BetaBounds) Name() string { return "beta_bounds" }

func (BetaBounds) RequiredAux() []string { return []string{contracts.AuxBetas} }

func (c BetaBounds) Apply(w Variable, aux AuxData) ([]LinearConstraint, error) {
	if c.Lower > c.Upper {
		return nil, &contracts.ConfigurationError{
			Constraint: c.Name(),
			Reason:     fmt.Sprintf("lower bound %g above upper bound %g", c.Lower, c.Upper),
		}
	}
	betas, err := aux.Require(c.Name(), contracts.AuxBetas, w.N)
	if err != nil {
		return nil, err
	}
	return []LinearConstraint{w.Dot(betas).Between(c.Lower, c.Upper).Named(c.Name())}, nil
}

// LongOnly forbids short positions
type LongOnly struct{}

func (LongOnly) Name() string { return "long_only" }

func (c LongOnly) Apply(w Variable, _ AuxData) ([]LinearConstraint, error) {
	rows := make([]LinearConstraint, w.N)
	for i := range rows {
		rows[i] = w.At(i).Ge(0).Named(fmt.Sprintf("%s[%d]", c.Name(), i))
	}
	return rows, nil
}

// Box bounds every weight to [Lower, Upper]
type Box struct {
	Lower float64
	Upper float64
}

func (Box) Name() string { return "box" }

func (c Box) Apply(w Variable, _ AuxData) ([]LinearConstraint, error) {
	if c.Lower > c.Upper {
		return nil, &contracts.ConfigurationError{
			Constraint: c.Name(),
			Reason:     fmt.Sprintf("lower bound %g above upper bound %g", c.Lower, c.Upper),
		}
	}
	rows := make([]LinearConstraint, w.N)
	for i := range rows {
		rows[i] = w.At(i).Between(c.Lower, c.Upper).Named(fmt.Sprintf("%s[%d]", c.Name(), i))
	}
	return rows, nil
}

// GrossPosition caps every position size: |w_i| <= Max
type GrossPosition struct {
	Max float64
}

func (GrossPosition) Name() string { return "gross_position" }

func (c GrossPosition) Apply(w Variable, _ AuxData) ([]LinearConstraint, error) {
	if c.Max <= 0 {
		return nil, &contracts.ConfigurationError{
			Constraint: c.Name(),
			Reason:     fmt.Sprintf("max position must be positive, got %g", c.Max),
		}
	}
	rows := make([]LinearConstraint, 0, 2*w.N)
	for i := 0; i < w.N; i++ {
		name := fmt.Sprintf("%s[%d]", c.Name(), i)
		rows = append(rows,
			w.At(i).Le(c.Max).Named(name),
			w.At(i).Ge(-c.Max).Named(name),
		)
	}
	return rows, nil
}

// SectorNeutral sets the net weight of every sector to zero
type SectorNeutral struct{}

func (SectorNeutral) Name() string { return "sector_neutral" }

func (SectorNeutral) RequiredAux() []string { return []string{contracts.AuxSectors} }

func (c SectorNeutral) Apply(w Variable, aux AuxData) ([]LinearConstraint, error) {
	ids, err := aux.Require(c.Name(), contracts.AuxSectors, w.N)
	if err != nil {
		return nil, err
	}

	members := make(map[float64][]int)
	for i, id := range ids {
		members[id] = append(members[id], i)
	}
	sectors := make([]float64, 0, len(members))
	for id := range members {
		sectors = append(sectors, id)
	}
	sort.Float64s(sectors)

	rows := make([]LinearConstraint, 0, len(sectors))
	for _, id := range sectors {
		coeffs := make([]float64, w.N)
		for _, i := range members[id] {
			coeffs[i] = 1
		}
		name := fmt.Sprintf("%s[%s]", c.Name(), strconv.FormatFloat(id, 'f', -1, 64))
		rows = append(rows, w.Dot(coeffs).Eq(0).Named(name))
	}
	return rows, nil
}

// ValidateSet checks a constraint set once before a run
func ValidateSet(set []Constraint) error {
	seen := make(map[string]bool, len(set))
	for i, c := range set {
		if c == nil {
			return &contracts.ConfigurationError{Reason: fmt.Sprintf("constraint %d is nil", i)}
		}
		if seen[c.Name()] {
			return &contracts.ConfigurationError{
				Constraint: c.Name(),
				Reason:     "constraint listed more than once",
			}
		}
		seen[c.Name()] = true
	}
	return nil
}

// Parse builds a constraint set from configuration entries.
//
//	zero_beta | long_only | sector_neutral
//	beta_bounds=-0.1:0.1 | box=-0.05:0.05 | gross_position=0.05
func Parse(entries []string) ([]Constraint, error) {
	set := make([]Constraint, 0, len(entries))
	for _, entry := range entries {
		name, arg, _ := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))

		var (
			c   Constraint
			err error
		)
		switch name {
		case "zero_beta":
			c = ZeroBeta{}
		case "long_only":
			c = LongOnly{}
		case "sector_neutral":
			c = SectorNeutral{}
		case "beta_bounds":
			var lo, hi float64
			lo, hi, err = parseRange(arg)
			c = BetaBounds{Lower: lo, Upper: hi}
		case "box":
			var lo, hi float64
			lo, hi, err = parseRange(arg)
			c = Box{Lower: lo, Upper: hi}
		case "gross_position":
			var limit float64
			limit, err = strconv.ParseFloat(strings.TrimSpace(arg), 64)
			c = GrossPosition{Max: limit}
		default:
			return nil, &contracts.ConfigurationError{Constraint: name, Reason: "unknown constraint"}
		}
		if err != nil {
			return nil, &contracts.ConfigurationError{
				Constraint: name,
				Reason:     fmt.Sprintf("invalid argument %q: %v", arg, err),
			}
		}
		set = append(set, c)
	}

	if err := ValidateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

func parseRange(arg string) (float64, float64, error) {
	loStr, hiStr, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, fmt.Errorf("want lower:upper")
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(loStr), 64)
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(hiStr), 64)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("lower %g above upper %g", lo, hi)
	}
	return lo, hi, nil
}

// Names lists the names of a constraint set in order
func Names(set []Constraint) []string {
	names := make([]string, len(set))
	for i, c := range set {
		names[i] = c.Name()
	}
	return names
}
