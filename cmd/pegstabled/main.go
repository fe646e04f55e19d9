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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pegstable/config"
	"pegstable/core/events"
	"pegstable/core/genesis"
	"pegstable/core/state"
	"pegstable/gateway"
	"pegstable/gateway/middleware"
	"pegstable/native/common"
	"pegstable/native/psm"
	"pegstable/observability/logging"
	"pegstable/observability/metrics"
	"pegstable/storage"
)

// slogEmitter renders module events onto the structured log.
type slogEmitter struct {
	logger *slog.Logger
}

func (e slogEmitter) Emit(evt events.Event) {
	payload := evt.Payload()
	attrs := make([]any, 0, len(payload.Attributes)*2)
	for key, value := range payload.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	e.logger.Info(payload.Type, attrs...)
}

// moduleAccount derives a deterministic account address for an internal
// module from its label.
func moduleAccount(label string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("pegstable/module/" + label))
	copy(addr[:], hash[12:])
	return addr
}

func main() {
	configFile := flag.String("config", "./pegstable.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PEGSTABLE_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("pegstabled", env, logging.Options{
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if err := run(cfg, *genesisFlag, logger); err != nil {
		logger.Error("daemon exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, genesisOverride string, logger *slog.Logger) error {
	params, err := cfg.PSM.Parameters()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer func() { _ = db.Close() }()
	manager := state.NewManager(db)

	genesisPath := strings.TrimSpace(genesisOverride)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if !manager.TokenExists(params.ReserveSymbol) {
		if genesisPath == "" {
			return fmt.Errorf("fresh database and no genesis file configured")
		}
		doc, err := genesis.Load(genesisPath)
		if err != nil {
			return err
		}
		if err := doc.Apply(manager); err != nil {
			return err
		}
		if err := manager.Commit(); err != nil {
			return fmt.Errorf("commit genesis: %w", err)
		}
		logger.Info("genesis applied", slog.String("path", genesisPath))
	}

	primary := buildOracle(cfg.Oracle.PrimaryURL, cfg.Oracle)
	backup := buildOracle(cfg.Oracle.BackupURL, cfg.Oracle)
	if primary == nil && backup == nil {
		logger.Warn("no oracle feeds configured; swaps will fail until an oracle is set")
	}
	adapter := psm.NewOracleAdapter(primary, backup, params.OracleDecimalsShift, params.OracleInvert, params.OracleMaxAge)

	module, err := psm.New(manager, adapter, params)
	if err != nil {
		return err
	}
	module.SetPauses(common.NewSwitchboard())
	module.SetEmitter(metrics.NewSwapEmitter(slogEmitter{logger: logger}))

	wrapped, err := psm.NewWrappedNative(manager, params.ReserveSymbol, moduleAccount("wrapped"))
	if err != nil {
		return err
	}
	router, err := psm.NewRouter(manager, module, wrapped, moduleAccount("router"), params.RouterRedeemActive)
	if err != nil {
		return err
	}
	router.SetEmitter(metrics.NewSwapEmitter(slogEmitter{logger: logger}))
	manager.RegisterNativeReceiver(router.Address(), router)
	if err := manager.Commit(); err != nil {
		return fmt.Errorf("commit module wiring: %w", err)
	}

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"psm": {RequestsPerMinute: cfg.Gateway.RequestsPerMinute, Burst: cfg.Gateway.Burst},
	})
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "pegstabled",
		Enabled:     true,
	}, logger)
	handler, err := gateway.New(gateway.Config{Module: module, RateLimiter: limiter, Observability: obs})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go observe(ctx, module)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.ListenAddress))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("gateway stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildOracle(url string, cfg config.OracleConfig) psm.PriceOracle {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil
	}
	return psm.NewHTTPOracle(nil, trimmed, cfg.APIKey, cfg.RequestsPerSecond)
}

// observe refreshes the custody and budget gauges until the context ends.
func observe(ctx context.Context, module *psm.PegStabilityModule) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := module.Status()
			if err != nil {
				continue
			}
			metrics.PSM().SetReserveCustody(status.CustodyBalance)
			metrics.PSM().SetBudgetBuffer(status.BudgetBuffer)
		}
	}
}
