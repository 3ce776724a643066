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
	"syscall"
	"time"

	"tokensale/config"
	"tokensale/core/state"
	"tokensale/gateway"
	"tokensale/native/sale"
	"tokensale/native/token"
	"tokensale/native/vesting"
	"tokensale/observability/logging"
	"tokensale/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service: "saled",
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	if cfg.Owner == "" {
		logger.Error("Owner address must be configured")
		os.Exit(1)
	}
	owner, err := config.ParseAddress(cfg.Owner)
	if err != nil {
		logger.Error("Failed to parse owner address", slog.Any("error", err))
		os.Exit(1)
	}
	vault := owner
	if cfg.Vault != "" {
		if vault, err = config.ParseAddress(cfg.Vault); err != nil {
			logger.Error("Failed to parse vault address", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	ledger := token.NewLedger(owner)
	ledger.SetState(manager)

	saleEngine := sale.NewEngine(owner, vault)
	saleEngine.SetState(manager)
	saleEngine.SetLedger(ledger.Bound(vault))

	var projectToken [20]byte
	if cfg.Sale.ProjectToken != "" {
		if projectToken, err = config.ParseAddress(cfg.Sale.ProjectToken); err != nil {
			logger.Error("Failed to parse project token", slog.Any("error", err))
			os.Exit(1)
		}
	}
	vestingEngine := vesting.NewEngine(owner, vault, projectToken)
	vestingEngine.SetState(manager)
	vestingEngine.SetLedger(ledger.Bound(vault))

	if err := applyGenesis(cfg, owner, saleEngine, vestingEngine); err != nil {
		logger.Error("Failed to apply genesis configuration", slog.Any("error", err))
		os.Exit(1)
	}

	server := gateway.NewServer(saleEngine, vestingEngine, gateway.Config{
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", slog.String("address", cfg.ListenAddress))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Gateway shutdown failed", slog.Any("error", err))
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// applyGenesis seeds sale parameters, tier caps, payment tokens and vesting
// schedules from the configuration. Settings are overwrite-idempotent, so
// reapplying the same file on restart is safe; vesting schedules are one-shot
// and skipped once created.
func applyGenesis(cfg *config.Config, owner [20]byte, saleEngine *sale.Engine, vestingEngine *vesting.Engine) error {
	if cfg.Sale.TargetRaised != "" {
		target, err := config.ParseAmount(cfg.Sale.TargetRaised)
		if err != nil {
			return err
		}
		if err := saleEngine.SetTargetRaised(owner, target); err != nil {
			return fmt.Errorf("set target raised: %w", err)
		}
	}
	if cfg.Sale.SalePrice != "" {
		price, err := config.ParseAmount(cfg.Sale.SalePrice)
		if err != nil {
			return err
		}
		if err := saleEngine.SetSalePrice(owner, price); err != nil {
			return fmt.Errorf("set sale price: %w", err)
		}
	}
	if cfg.Sale.ProjectToken != "" {
		projectToken, err := config.ParseAddress(cfg.Sale.ProjectToken)
		if err != nil {
			return err
		}
		if err := saleEngine.SetProjectToken(owner, projectToken, cfg.Sale.ProjectDecimals); err != nil {
			return fmt.Errorf("set project token: %w", err)
		}
	}
	if cfg.Sale.MerkleRoot != "" {
		root, err := config.ParseRoot(cfg.Sale.MerkleRoot)
		if err != nil {
			return err
		}
		if err := saleEngine.SetMerkleRoot(owner, root); err != nil {
			return fmt.Errorf("set merkle root: %w", err)
		}
	}

	for _, tier := range cfg.Tiers {
		limit, err := config.ParseAmount(tier.Limit)
		if err != nil {
			return err
		}
		if err := saleEngine.SetTierLimit(owner, tier.Tier, limit); err != nil {
			return fmt.Errorf("set tier %d limit: %w", tier.Tier, err)
		}
	}

	for _, payment := range cfg.PaymentTokens {
		tokenAddr, err := config.ParseAddress(payment.Token)
		if err != nil {
			return err
		}
		if err := saleEngine.ConfigureToken(owner, tokenAddr, payment.Decimals); err != nil {
			return fmt.Errorf("configure payment token %s: %w", payment.Token, err)
		}
	}

	for _, schedule := range cfg.Vesting {
		beneficiary, err := config.ParseAddress(schedule.Beneficiary)
		if err != nil {
			return err
		}
		total, err := config.ParseAmount(schedule.Total)
		if err != nil {
			return err
		}
		_, err = vestingEngine.CreateSchedule(owner, beneficiary, total, schedule.Start, int64(schedule.Cliff), int64(schedule.Duration))
		if err != nil && !errors.Is(err, vesting.ErrScheduleExists) {
			return fmt.Errorf("create vesting schedule for %s: %w", schedule.Beneficiary, err)
		}
	}

	return nil
}
