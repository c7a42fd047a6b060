package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewhall1124/backtest-test/internal/api"
	"github.com/andrewhall1124/backtest-test/internal/api/handlers"
	"github.com/andrewhall1124/backtest-test/internal/scheduler"
	"github.com/andrewhall1124/backtest-test/pkg/redis"
)

// redisPrefix namespaces every key the API writes
const redisPrefix = "backtest"

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `저장된 백테스트 런을 조회하는 REST API 서버를 시작합니다.

Redis가 활성화되면 응답 캐시와 클라이언트별 레이트 리밋을 사용합니다.

Endpoints:
  GET    /health                    - Health check
  GET    /api/runs                  - 런 목록 (?limit=)
  GET    /api/runs/{id}             - 런 요약
  DELETE /api/runs/{id}             - 런 삭제
  GET    /api/runs/{id}/weights     - 비중 (?date=YYYY-MM-DD)
  GET    /api/runs/{id}/exposure    - 날짜별 익스포저
  GET    /api/jobs                  - 스케줄러 상태

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "스케줄러를 같은 프로세스에서 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. Load config
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	// 2. Connect to database
	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Connect to redis (disabled config gives a pass-through client)
	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	// 4. Optional in-process scheduler
	var jobs handlers.JobStatsProvider
	var sched *scheduler.Scheduler
	if apiWithScheduler {
		sched, err = a.newScheduler()
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		jobs = sched
		sched.Start()
		defer sched.Stop()
	}

	// 5. Handlers and router
	runHandler := handlers.NewRunHandler(a.runs, redis.NewCache(rdb, redisPrefix), cfg.API.CacheTTL, log)
	systemHandler := handlers.NewSystemHandler(a.db, jobs)
	router := api.NewRouter(runHandler, systemHandler, api.RateLimit{
		Limiter: redis.NewRateLimiter(rdb, redisPrefix),
		Limit:   cfg.API.RateLimit,
		Window:  cfg.API.RateLimitWindow,
	}, log)

	// 6. Start server with graceful shutdown
	server := api.New(cfg, log, router)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	if !rdb.Enabled() {
		PrintWarning("Redis disabled: no response cache, no rate limit")
	}
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
