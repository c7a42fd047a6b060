package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그와 RunResult.CompletedStages에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   S0 → S1 → S2 → S5 → S6 → S7
//   Load  Quality  Signals  Optimize  Persist  Audit
//
// S3/S4 (screener, ranker) are absent: every asset with an alpha enters the optimizer.

// Stage represents a pipeline stage
type Stage string

const (
	// StageLoad S0: 패널 로드 (warmup 포함)
	StageLoad Stage = "S0:Load"

	// StageQuality S1: 패널 커버리지 품질 게이트
	StageQuality Stage = "S1:Quality"

	// StageSignals S2: 모멘텀 시그널 및 알파 계산
	StageSignals Stage = "S2:Signals"

	// StageOptimize S5: 날짜별 평균-분산 최적화
	StageOptimize Stage = "S5:Optimize"

	// StagePersist S6: 비중 테이블 저장 (dry run이면 생략)
	StagePersist Stage = "S6:Persist"

	// StageAudit S7: 실현 성과 및 tail risk
	StageAudit Stage = "S7:Audit"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// ShortName returns abbreviated stage name (e.g., "S0", "S1")
func (s Stage) ShortName() string {
	if !IsValidStage(string(s)) {
		return "UNKNOWN"
	}
	return string(s)[:2]
}

// Description returns Korean description of the stage
func (s Stage) Description() string {
	switch s {
	case StageLoad:
		return "패널 로드"
	case StageQuality:
		return "품질 게이트"
	case StageSignals:
		return "시그널 계산"
	case StageOptimize:
		return "포트폴리오 최적화"
	case StagePersist:
		return "비중 저장"
	case StageAudit:
		return "성과 분석/감사"
	default:
		return "알 수 없음"
	}
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageLoad,
		StageQuality,
		StageSignals,
		StageOptimize,
		StagePersist,
		StageAudit,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}
