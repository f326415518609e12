package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datalocker/config"
	"datalocker/core/epoch"
	"datalocker/core/events"
	"datalocker/core/state"
	"datalocker/core/types"
	"datalocker/native/locker"
	"datalocker/observability/logging"
	"datalocker/storage"
)

const ownerEnv = "DATALOCKER_OWNER"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	ownerFlag := flag.String("owner", "", "Ledger owner address (overrides config and DATALOCKER_OWNER)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("DATALOCKER_ENV"))
	logger := logging.Setup(logging.Options{Service: "datalockerd", Env: env, Level: cfg.LogLevel})

	owner, err := resolveOwner(*ownerFlag, cfg, os.Getenv(ownerEnv))
	if err != nil {
		logger.Error("Failed to resolve ledger owner", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine, err := buildEngine(cfg, owner, state.NewManager(db), logger)
	if err != nil {
		logger.Error("Failed to configure ledger engine", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("Serving metrics", slog.String("addr", cfg.MetricsListenAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	interval := time.Duration(cfg.AutomationIntervalSeconds) * time.Second
	logger.Info("Renewal automation started",
		slog.String("owner", common.Address(owner).Hex()),
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown failed", slog.Any("error", err))
			}
			return
		case <-ticker.C:
			runSweep(engine, owner, logger)
		}
	}
}

func resolveOwner(flagValue string, cfg *config.Config, envValue string) ([20]byte, error) {
	for _, candidate := range []string{flagValue, envValue} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !common.IsHexAddress(candidate) {
			return [20]byte{}, fmt.Errorf("invalid owner address %q", candidate)
		}
		return [20]byte(common.HexToAddress(candidate)), nil
	}
	if strings.TrimSpace(cfg.OwnerAddress) != "" {
		return cfg.Owner()
	}
	return [20]byte{}, fmt.Errorf("ledger owner not configured: set -owner, %s or OwnerAddress", ownerEnv)
}

func buildEngine(cfg *config.Config, owner [20]byte, manager *state.Manager, logger *slog.Logger) (*locker.Engine, error) {
	epochCfg, err := cfg.EpochConfig()
	if err != nil {
		return nil, err
	}
	engine := locker.NewEngine(owner)
	engine.SetState(manager)
	engine.SetClock(epoch.NewClock(epochCfg))
	engine.SetLowBalanceCycles(cfg.LowBalanceRenewalCycles)
	engine.SetLogger(logger)
	engine.SetEmitter(eventLogger{log: logger})
	for _, token := range []string{locker.TokenFIL, locker.TokenUSDFC} {
		minimum, err := cfg.MinimumDeposit(token)
		if err != nil {
			return nil, err
		}
		if err := engine.SetMinimumDeposit(token, minimum); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// eventLogger forwards ledger events to the structured log so operators can
// tail deposits, renewals and expirations without a separate event sink.
type eventLogger struct {
	log *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	if evt == nil || l.log == nil {
		return
	}
	attrs := []any{}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.log.Info(evt.EventType(), attrs...)
}

func runSweep(engine *locker.Engine, caller [20]byte, logger *slog.Logger) {
	now := engine.CurrentEpoch()
	due, err := engine.RenewalQueue(now)
	if err != nil {
		logger.Error("Renewal queue scan failed", slog.Any("error", err))
		return
	}
	if len(due) == 0 {
		return
	}

	var renewed, expired, failed int
	for _, outcome := range engine.BatchProcessRenewals(due, caller) {
		switch {
		case outcome.Err != nil:
			failed++
		case outcome.Outcome == locker.OutcomeRenewed:
			renewed++
		case outcome.Outcome == locker.OutcomeExpired:
			expired++
		}
	}
	logger.Info("Renewal sweep complete",
		slog.Uint64("epoch", now),
		slog.Int("due", len(due)),
		slog.Int("renewed", renewed),
		slog.Int("expired", expired),
		slog.Int("failed", failed))

	status, err := engine.GetAutomationStatus(now)
	if err != nil {
		logger.Error("Automation status failed", slog.Any("error", err))
		return
	}
	if status.LowBalance > 0 {
		logger.Warn("Records running low on escrow", slog.Uint64("count", status.LowBalance))
	}
}
