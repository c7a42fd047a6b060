package strategyconfig

// Config is a versioned strategy file. Nil or empty fields keep the environment value.
type Config struct {
	Meta      Meta      `yaml:"meta" json:"meta"`
	Period    Period    `yaml:"period" json:"period"`
	Signal    Signal    `yaml:"signal" json:"signal"`
	Portfolio Portfolio `yaml:"portfolio" json:"portfolio"`
	Driver    Driver    `yaml:"driver" json:"driver"`
	Solver    Solver    `yaml:"solver" json:"solver"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID  string `yaml:"strategy_id" json:"strategy_id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
}

// Period is the backtest date range (YYYY-MM-DD)
type Period struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Signal 모멘텀 시그널 파라미터
type Signal struct {
	IC           *float64 `yaml:"ic" json:"ic"`
	Window       *int     `yaml:"window" json:"window"`
	Lag          *int     `yaml:"lag" json:"lag"`
	PercentScale *float64 `yaml:"percent_scale" json:"percent_scale"`
}

// Portfolio 최적화 파라미터
type Portfolio struct {
	Gamma       *float64 `yaml:"gamma" json:"gamma"`
	NetTarget   *float64 `yaml:"net_target" json:"net_target"`
	RiskModel   string   `yaml:"risk_model" json:"risk_model"`
	MarketVol   *float64 `yaml:"market_vol" json:"market_vol"`
	Constraints []string `yaml:"constraints" json:"constraints"`
}

// Driver 워크포워드 실행 파라미터
type Driver struct {
	Workers   *int `yaml:"workers" json:"workers"`
	MinAssets *int `yaml:"min_assets" json:"min_assets"`
}

// Solver QP 솔버 파라미터
type Solver struct {
	MaxIter   *int     `yaml:"max_iter" json:"max_iter"`
	Tolerance *float64 `yaml:"tolerance" json:"tolerance"`
}
