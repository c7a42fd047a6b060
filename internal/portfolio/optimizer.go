package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
	"github.com/andrewhall1124/backtest-test/internal/portfolio/qp"
	"github.com/andrewhall1124/backtest-test/pkg/logger"
)

// SolverConfig bounds the QP solve of one date
type SolverConfig struct {
	MaxIter   int
	Tolerance float64
}

// DefaultSolverConfig returns the solver defaults
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{MaxIter: 500, Tolerance: 1e-9}
}

// Problem is one date's mean-variance optimization
type Problem struct {
	Universe    *contracts.Universe
	Constraints []Constraint
	Risk        RiskModel // nil means DiagonalRisk
	Gamma       float64
	NetTarget   float64 // budget: sum of weights
}

// Solution holds the optimal weights of one date, aligned with AssetIDs
type Solution struct {
	Date           time.Time
	AssetIDs       []string
	Weights        []float64
	ExpectedReturn float64 // α'w
	Variance       float64 // w'Σw
	Objective      float64 // α'w - γ w'Σw
	Iterations     int
	Binding        []string
}

// Records converts the solution into weight rows in asset order
func (s *Solution) Records() []contracts.WeightRecord {
	out := make([]contracts.WeightRecord, len(s.AssetIDs))
	for i, id := range s.AssetIDs {
		out[i] = contracts.WeightRecord{AssetID: id, Date: s.Date, Weight: s.Weights[i]}
	}
	return out
}

// Optimizer solves max α'w − γ w'Σw subject to 1'w = NetTarget and the constraint rows
// ⭐ SSOT: 날짜별 평균-분산 최적화는 여기서만
type Optimizer struct {
	config SolverConfig
	logger *logger.Logger
}

// NewOptimizer creates a new single-date optimizer
func NewOptimizer(config SolverConfig, log *logger.Logger) *Optimizer {
	return &Optimizer{
		config: config,
		logger: log.Module("optimizer"),
	}
}

// Optimize solves one date. Errors are *contracts.ConfigurationError,
// *contracts.InfeasibleProblemError or *contracts.SolverNumericalError.
func (o *Optimizer) Optimize(ctx context.Context, p Problem) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := p.Universe
	if u == nil || u.Count() == 0 {
		return nil, &contracts.ConfigurationError{Reason: "empty universe"}
	}
	date := u.Date
	n := u.Count()

	// 1. Inputs
	if p.Gamma <= 0 || math.IsNaN(p.Gamma) || math.IsInf(p.Gamma, 0) {
		return nil, &contracts.ConfigurationError{Reason: fmt.Sprintf("gamma must be positive, got %g", p.Gamma)}
	}
	if len(u.Alphas) != n {
		return nil, &contracts.ConfigurationError{
			Reason: fmt.Sprintf("%d alphas for %d assets", len(u.Alphas), n),
		}
	}
	for i, a := range u.Alphas {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return nil, &contracts.ConfigurationError{
				Reason: fmt.Sprintf("non-finite alpha for %s", u.AssetIDs[i]),
			}
		}
	}

	risk := p.Risk
	if risk == nil {
		risk = DiagonalRisk{}
	}
	structure, err := riskStructure(risk, u)
	if err != nil {
		return nil, fmt.Errorf("%s risk model on %s: %w", risk.Name(), date.Format("2006-01-02"), err)
	}

	// 2. Constraint rows: budget first, then the configured set in order
	w := Variable{N: n}
	rows := []LinearConstraint{w.Sum().Eq(p.NetTarget).Named("budget")}
	for _, c := range p.Constraints {
		applied, err := c.Apply(w, AuxData(u.Aux))
		if err != nil {
			return nil, fmt.Errorf("apply %s on %s: %w", c.Name(), date.Format("2006-01-02"), err)
		}
		for _, row := range applied {
			if len(row.Coeffs) != n {
				return nil, &contracts.ConfigurationError{
					Constraint: c.Name(),
					Reason:     fmt.Sprintf("row has %d coefficients for %d assets", len(row.Coeffs), n),
				}
			}
			if row.Name == "" {
				row.Name = c.Name()
			}
			rows = append(rows, row)
		}
	}

	// 3. minimize ½ w'(2γΣ)w − α'w
	c := make([]float64, n)
	floats.ScaleTo(c, -1, u.Alphas)

	qpRows := make([]qp.Row, len(rows))
	for i, r := range rows {
		qpRows[i] = qp.Row{Name: r.Name, Coeffs: r.Coeffs, Lower: r.Lower, Upper: r.Upper}
	}

	res, err := qp.Solve(structure.problem(p.Gamma, c, qpRows), qp.Options{
		MaxIter:   o.config.MaxIter,
		Tolerance: o.config.Tolerance,
	})
	if err != nil {
		return nil, mapSolverError(date, err)
	}

	for _, x := range res.X {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &contracts.SolverNumericalError{Date: date, Iterations: res.Iterations, Detail: "non-finite weight"}
		}
	}

	// 4. Report
	variance := structure.variance(res.X)
	expected := floats.Dot(u.Alphas, res.X)

	sol := &Solution{
		Date:           date,
		AssetIDs:       append([]string(nil), u.AssetIDs...),
		Weights:        res.X,
		ExpectedReturn: expected,
		Variance:       variance,
		Objective:      expected - p.Gamma*variance,
		Iterations:     res.Iterations,
		Binding:        res.Active,
	}

	o.logger.WithFields(map[string]interface{}{
		"date":       date.Format("2006-01-02"),
		"assets":     n,
		"rows":       len(rows),
		"iterations": res.Iterations,
		"objective":  sol.Objective,
	}).Debug("Date optimized")

	return sol, nil
}

func mapSolverError(date time.Time, err error) error {
	var numErr *qp.NumericalError
	switch {
	case errors.Is(err, qp.ErrInfeasible):
		return &contracts.InfeasibleProblemError{Date: date, Reason: err.Error()}
	case errors.As(err, &numErr):
		return &contracts.SolverNumericalError{Date: date, Iterations: numErr.Iterations, Detail: numErr.Detail}
	default:
		return &contracts.SolverNumericalError{Date: date, Detail: err.Error()}
	}
}

// riskShape is Σ either as diag(specific) + LL' or as a dense matrix
type riskShape struct {
	specific []float64
	loadings *mat.Dense
	dense    *mat.SymDense
}

func riskStructure(risk RiskModel, u *contracts.Universe) (riskShape, error) {
	if fr, ok := risk.(FactorRisk); ok {
		specific, loadings, err := fr.Factors(u)
		return riskShape{specific: specific, loadings: loadings}, err
	}
	cov, err := risk.Covariance(u)
	return riskShape{dense: cov}, err
}

// problem scales Σ by 2γ into the QP Hessian
func (r riskShape) problem(gamma float64, c []float64, rows []qp.Row) qp.Problem {
	if r.dense != nil {
		q := mat.NewSymDense(r.dense.SymmetricDim(), nil)
		q.ScaleSym(2*gamma, r.dense)
		return qp.Problem{Q: q, C: c, Rows: rows}
	}
	diag := make([]float64, len(r.specific))
	floats.ScaleTo(diag, 2*gamma, r.specific)
	var factors *mat.Dense
	if r.loadings != nil {
		var scaled mat.Dense
		scaled.Scale(math.Sqrt(2*gamma), r.loadings)
		factors = &scaled
	}
	return qp.Problem{Diag: diag, Factors: factors, C: c, Rows: rows}
}

func (r riskShape) variance(w []float64) float64 {
	wv := mat.NewVecDense(len(w), w)
	if r.dense != nil {
		return mat.Inner(wv, r.dense, wv)
	}
	v := 0.0
	for i, s := range r.specific {
		v += s * w[i] * w[i]
	}
	if r.loadings != nil {
		_, k := r.loadings.Dims()
		f := mat.NewVecDense(k, nil)
		f.MulVec(r.loadings.T(), wv)
		v += mat.Dot(f, f)
	}
	return v
}
