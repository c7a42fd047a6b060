package portfolio

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/mat"

	"github.com/andrewhall1124/backtest-test/internal/contracts"
)

// RiskModel produces the covariance matrix of one date's universe.
// The matrix must be aligned with Universe.AssetIDs and positive definite.
type RiskModel interface {
	Name() string
	Covariance(u *contracts.Universe) (*mat.SymDense, error)
}

// FactorRisk is a RiskModel with the structure Σ = diag(specific) + LL'.
// The optimizer uses it to avoid forming Σ.
type FactorRisk interface {
	RiskModel
	Factors(u *contracts.Universe) (specific []float64, loadings *mat.Dense, err error)
}

// DiagonalRisk treats specific risks as uncorrelated: Σ = diag(σ²)
type DiagonalRisk struct{}

func (DiagonalRisk) Name() string { return "diagonal" }

func (DiagonalRisk) Covariance(u *contracts.Universe) (*mat.SymDense, error) {
	n := u.Count()
	if len(u.SpecificRisk) != n {
		return nil, &contracts.ConfigurationError{
			Reason: fmt.Sprintf("%d specific risks for %d assets", len(u.SpecificRisk), n),
		}
	}
	cov := mat.NewSymDense(n, nil)
	for i, s := range u.SpecificRisk {
		cov.SetSym(i, i, s*s)
	}
	return cov, nil
}

func (DiagonalRisk) Factors(u *contracts.Universe) ([]float64, *mat.Dense, error) {
	n := u.Count()
	if len(u.SpecificRisk) != n {
		return nil, nil, &contracts.ConfigurationError{
			Reason: fmt.Sprintf("%d specific risks for %d assets", len(u.SpecificRisk), n),
		}
	}
	specific := make([]float64, n)
	for i, s := range u.SpecificRisk {
		specific[i] = s * s
	}
	return specific, nil, nil
}

// SingleFactorRisk adds a market factor: Σ = σm² ββ' + diag(σ²)
type SingleFactorRisk struct {
	FactorVol float64
}

func (SingleFactorRisk) Name() string { return "single_factor" }

func (m SingleFactorRisk) Covariance(u *contracts.Universe) (*mat.SymDense, error) {
	cov, err := DiagonalRisk{}.Covariance(u)
	if err != nil {
		return nil, err
	}
	n := u.Count()
	if len(u.Betas) != n {
		return nil, &contracts.ConfigurationError{
			Reason: fmt.Sprintf("%d betas for %d assets", len(u.Betas), n),
		}
	}
	beta := mat.NewVecDense(n, append([]float64(nil), u.Betas...))
	cov.SymRankOne(cov, m.FactorVol*m.FactorVol, beta)
	return cov, nil
}

// RequiredAux lists the auxiliary series the model reads
func (SingleFactorRisk) RequiredAux() []string { return []string{contracts.AuxBetas} }

func (m SingleFactorRisk) Factors(u *contracts.Universe) ([]float64, *mat.Dense, error) {
	specific, _, err := DiagonalRisk{}.Factors(u)
	if err != nil {
		return nil, nil, err
	}
	n := u.Count()
	if len(u.Betas) != n {
		return nil, nil, &contracts.ConfigurationError{
			Reason: fmt.Sprintf("%d betas for %d assets", len(u.Betas), n),
		}
	}
	loadings := mat.NewDense(n, 1, nil)
	for i, b := range u.Betas {
		loadings.Set(i, 0, m.FactorVol*b)
	}
	return specific, loadings, nil
}

// CovarianceRisk picks rows from a full asset covariance matrix
type CovarianceRisk struct {
	index map[string]int
	cov   *mat.SymDense
}

// NewCovarianceRisk keys a covariance matrix by asset id
func NewCovarianceRisk(assetIDs []string, cov *mat.SymDense) (*CovarianceRisk, error) {
	if cov == nil || cov.SymmetricDim() != len(assetIDs) {
		return nil, fmt.Errorf("covariance matrix does not match %d asset ids", len(assetIDs))
	}
	index := make(map[string]int, len(assetIDs))
	for i, id := range assetIDs {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate asset id %s in covariance", id)
		}
		index[id] = i
	}
	return &CovarianceRisk{index: index, cov: cov}, nil
}

func (*CovarianceRisk) Name() string { return "covariance" }

func (m *CovarianceRisk) Covariance(u *contracts.Universe) (*mat.SymDense, error) {
	pos := make([]int, u.Count())
	for i, id := range u.AssetIDs {
		k, ok := m.index[id]
		if !ok {
			return nil, &contracts.ConfigurationError{Reason: "no covariance for asset " + id}
		}
		pos[i] = k
	}
	sub := mat.NewSymDense(len(pos), nil)
	for i := range pos {
		for j := i; j < len(pos); j++ {
			sub.SetSym(i, j, m.cov.At(pos[i], pos[j]))
		}
	}
	return sub, nil
}

// covarianceCSVRow is one entry of a long-format covariance export.
// Each unordered pair appears once; the missing half is mirrored.
type covarianceCSVRow struct {
	AssetI     string `csv:"asset_i"`
	AssetJ     string `csv:"asset_j"`
	Covariance string `csv:"covariance"`
}

// LoadCovarianceCSV opens path and reads it with ReadCovarianceCSV
func LoadCovarianceCSV(path string) (*CovarianceRisk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open covariance csv: %w", err)
	}
	defer f.Close()
	return ReadCovarianceCSV(f)
}

// ReadCovarianceCSV builds a CovarianceRisk from asset_i,asset_j,covariance
// lines. Pairs left out are uncorrelated; every asset needs a variance line.
func ReadCovarianceCSV(r io.Reader) (*CovarianceRisk, error) {
	var rows []covarianceCSVRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse covariance csv: %w", err)
	}

	type pair struct{ i, j string }
	values := make(map[pair]float64, len(rows))
	seen := make(map[string]bool)
	for line, row := range rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row.Covariance), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("covariance csv line %d: bad covariance %q", line+2, row.Covariance)
		}
		a, b := strings.TrimSpace(row.AssetI), strings.TrimSpace(row.AssetJ)
		if a == "" || b == "" {
			return nil, fmt.Errorf("covariance csv line %d: missing asset id", line+2)
		}
		if b < a {
			a, b = b, a
		}
		if old, dup := values[pair{a, b}]; dup && old != v {
			return nil, fmt.Errorf("covariance csv line %d: %s/%s given twice with different values", line+2, a, b)
		}
		values[pair{a, b}] = v
		seen[a], seen[b] = true, true
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("covariance csv has no rows")
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cov := mat.NewSymDense(len(ids), nil)
	for i, a := range ids {
		v, ok := values[pair{a, a}]
		if !ok || v <= 0 {
			return nil, fmt.Errorf("covariance csv: asset %s needs a positive variance", a)
		}
		for j := i; j < len(ids); j++ {
			cov.SetSym(i, j, values[pair{a, ids[j]}])
		}
	}
	return NewCovarianceRisk(ids, cov)
}

// ParseRiskModel resolves a configured risk model name. covariancePath is
// only read for the covariance model.
func ParseRiskModel(name string, factorVol float64, covariancePath string) (RiskModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "diagonal":
		return DiagonalRisk{}, nil
	case "single_factor":
		if factorVol <= 0 {
			return nil, fmt.Errorf("single_factor risk model needs a positive market volatility, got %g", factorVol)
		}
		return SingleFactorRisk{FactorVol: factorVol}, nil
	case "covariance":
		if covariancePath == "" {
			return nil, fmt.Errorf("covariance risk model needs a covariance csv path")
		}
		return LoadCovarianceCSV(covariancePath)
	default:
		return nil, fmt.Errorf("unknown risk model %q", name)
	}
}
