package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andrewhall1124/backtest-test/internal/strategyconfig"
	"github.com/andrewhall1124/backtest-test/pkg/config"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "워크포워드 백테스트",
	Long: `날짜마다 독립적으로 평균-분산 최적화를 다시 풀어 비중 테이블을 만듭니다.

각 날짜:
- 모멘텀 시그널로 알파 계산 (IC × score × specific_risk)
- 제약조건 적용 (zero_beta, long_only, box, ...)
- max α'w − γ w'Σw 최적화

Example:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --start 2024-01-01 --end 2024-12-31 --gamma 2`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "백테스트 실행",
		Long: `설정된 기간 동안 워크포워드 백테스트를 실행합니다.
플래그는 환경변수 설정을 덮어씁니다.

Warmup (--warmup, 기본 true):
  시작일 이전 window+lag 관측치(기본 372 캘린더일)를 함께 로드해서
  --start 첫 날짜부터 모멘텀 알파를 계산합니다. 따라서 start..end 만
  로드하는 방식과 가중치가 나오는 날짜가 다릅니다. --warmup=false 는
  start..end 만 로드하며 처음 window+lag 관측치 동안은 가중치가 없습니다.

Example:
  go run ./cmd/quant backtest run
  go run ./cmd/quant backtest run --constraints zero_beta,box=-0.05:0.05 --workers 8
  go run ./cmd/quant backtest run --panel-source csv --panel panel.csv --output weights.csv --output-format csv
  go run ./cmd/quant backtest run --strategy strategies/zero_beta.yaml --gamma 3
  go run ./cmd/quant backtest run --dry-run`,
		RunE: runBacktest,
	}

	btOpts backtestOptions
)

// backtestOptions holds CLI overrides of config.BacktestConfig
type backtestOptions struct {
	strategy     string
	start        string
	end          string
	ic           float64
	window       int
	lag          int
	warmup       bool
	panelSource  string
	panel        string
	gamma        float64
	netTarget    float64
	workers      int
	minAssets    int
	constraints  []string
	riskModel    string
	covariance   string
	outputFormat string
	output       string
	dryRun       bool
	strictGate   bool

	// set by apply when a strategy file was loaded
	strategyID   string
	strategyHash string
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	addPanelFlags(backtestRunCmd.Flags(), &btOpts)
	addOptimizerFlags(backtestRunCmd.Flags(), &btOpts)
}

// addPanelFlags registers the flags shared by every command that computes signals
func addPanelFlags(fs *pflag.FlagSet, o *backtestOptions) {
	fs.StringVar(&o.strategy, "strategy", "", "전략 YAML 파일 (플래그가 우선)")
	fs.StringVar(&o.start, "start", "", "시작 날짜 (YYYY-MM-DD)")
	fs.StringVar(&o.end, "end", "", "종료 날짜 (YYYY-MM-DD)")
	fs.Float64Var(&o.ic, "ic", 0, "information coefficient (0, 1)")
	fs.IntVar(&o.window, "window", 0, "모멘텀 윈도우 (관측치)")
	fs.IntVar(&o.lag, "lag", 0, "리포팅 래그 (관측치)")
	fs.BoolVar(&o.warmup, "warmup", true,
		"시작일 이전 window+lag 관측치만큼 패널을 추가 로드. 첫 날짜부터 알파가 나오므로 "+
			"start..end 구간만 로드하는 방식보다 가중치가 있는 날짜가 많아짐. "+
			"false면 start..end 만 로드하고 처음 window+lag 관측치 동안은 가중치가 없음")
	fs.StringVar(&o.panelSource, "panel-source", "", "패널 소스: postgres, csv")
	fs.StringVar(&o.panel, "panel", "", "패널 CSV 경로 또는 http(s) URL")
}

// addOptimizerFlags registers the optimizer, driver and output flags
func addOptimizerFlags(fs *pflag.FlagSet, o *backtestOptions) {
	fs.Float64Var(&o.gamma, "gamma", 0, "risk aversion (> 0)")
	fs.Float64Var(&o.netTarget, "net-target", 0, "날짜별 비중 합계")
	fs.IntVar(&o.workers, "workers", 0, "병렬 워커 수 (0: CPU 수)")
	fs.IntVar(&o.minAssets, "min-assets", 0, "최소 자산 수 (미만이면 날짜 스킵)")
	fs.StringSliceVar(&o.constraints, "constraints", nil, "제약조건 목록 (예: zero_beta,box=-0.05:0.05)")
	fs.StringVar(&o.riskModel, "risk-model", "", "리스크 모델: diagonal, single_factor, covariance")
	fs.StringVar(&o.covariance, "covariance", "", "공분산 CSV 경로 (asset_i,asset_j,covariance; covariance 모델용)")
	fs.StringVar(&o.outputFormat, "output-format", "", "출력 형식: parquet, csv, postgres")
	fs.StringVar(&o.output, "output", "", "출력 파일 경로")
	fs.BoolVar(&o.dryRun, "dry-run", false, "저장 없이 실행")
	fs.BoolVar(&o.strictGate, "strict-gate", false, "품질 게이트 실패 시 중단")
}

// apply copies the strategy file and then every flag the user set onto b
func (o *backtestOptions) apply(fs *pflag.FlagSet, b *config.BacktestConfig) error {
	if fs.Changed("strategy") {
		if err := o.applyStrategy(b); err != nil {
			return err
		}
	}
	if fs.Changed("start") {
		t, err := time.Parse(time.DateOnly, o.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		b.StartDate = t
	}
	if fs.Changed("end") {
		t, err := time.Parse(time.DateOnly, o.end)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
		b.EndDate = t
	}
	if fs.Changed("ic") {
		b.IC = o.ic
	}
	if fs.Changed("window") {
		b.MomentumWindow = o.window
	}
	if fs.Changed("lag") {
		b.ReportingLag = o.lag
	}
	if fs.Changed("warmup") {
		b.Warmup = o.warmup
	}
	if fs.Changed("panel-source") {
		b.PanelSource = strings.ToLower(o.panelSource)
	}
	if fs.Changed("panel") {
		b.PanelCSVPath = o.panel
		// a panel path implies the csv source unless both were given
		if !fs.Changed("panel-source") {
			b.PanelSource = "csv"
		}
	}
	if fs.Changed("gamma") {
		b.Gamma = o.gamma
	}
	if fs.Changed("net-target") {
		b.NetTarget = o.netTarget
	}
	if fs.Changed("workers") {
		b.Workers = o.workers
	}
	if fs.Changed("min-assets") {
		b.MinAssets = o.minAssets
	}
	if fs.Changed("constraints") {
		b.Constraints = o.constraints
	}
	if fs.Changed("risk-model") {
		b.RiskModel = o.riskModel
	}
	if fs.Changed("covariance") {
		b.CovariancePath = o.covariance
		if !fs.Changed("risk-model") {
			b.RiskModel = "covariance"
		}
	}
	if fs.Changed("output-format") {
		b.OutputFormat = strings.ToLower(o.outputFormat)
	}
	if fs.Changed("output") {
		b.OutputPath = o.output
	}
	return nil
}

// applyStrategy loads a strategy file onto b and records its hash
func (o *backtestOptions) applyStrategy(b *config.BacktestConfig) error {
	sc, _, err := strategyconfig.Load(o.strategy)
	if err != nil {
		return fmt.Errorf("load strategy %s: %w", o.strategy, err)
	}
	if err := sc.Apply(b); err != nil {
		return fmt.Errorf("apply strategy %s: %w", o.strategy, err)
	}
	hash, err := strategyconfig.Hash(sc)
	if err != nil {
		return err
	}
	o.strategyID = sc.Meta.StrategyID
	o.strategyHash = hash
	return nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := btOpts.apply(cmd.Flags(), &cfg.Backtest); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rc, err := runConfig(cfg.Backtest)
	if err != nil {
		return err
	}
	rc.DryRun = btOpts.dryRun
	rc.StrictGate = btOpts.strictGate

	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	writers, err := a.weightWriters()
	if err != nil {
		return err
	}
	orchestrator, err := a.newOrchestrator(writers)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	if btOpts.strategyID != "" {
		log.WithFields(map[string]interface{}{
			"strategy_id": btOpts.strategyID,
			"hash":        btOpts.strategyHash[:12],
		}).Info("Strategy file applied")
	}
	printRunHeader(cfg.Backtest, rc.DryRun)

	result, err := orchestrator.Run(ctx, rc)
	if err != nil {
		return fmt.Errorf("backtest run failed: %w", err)
	}

	printRunResult(result, cfg.Backtest)
	return nil
}
