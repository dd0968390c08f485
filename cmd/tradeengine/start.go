package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kieranlane/gapengine/internal/bars"
	"github.com/kieranlane/gapengine/internal/broker"
	"github.com/kieranlane/gapengine/internal/cache"
	"github.com/kieranlane/gapengine/internal/clock"
	"github.com/kieranlane/gapengine/internal/config"
	"github.com/kieranlane/gapengine/internal/coordinator"
	"github.com/kieranlane/gapengine/internal/logging"
	"github.com/kieranlane/gapengine/internal/marketdata"
	"github.com/kieranlane/gapengine/internal/metrics"
	"github.com/kieranlane/gapengine/internal/riskgate"
	"github.com/kieranlane/gapengine/internal/store"
	"github.com/kieranlane/gapengine/internal/watchlist"
)

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	watchlistPath, _ := cmd.Flags().GetString("watchlist")
	storeDSN, _ := cmd.Flags().GetString("store-dsn")
	workers, _ := cmd.Flags().GetInt("workers")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	socketPath, _ := cmd.Flags().GetString("socket")

	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !jsonLogs
	log := logging.Init(interactive, parseLogLevel(os.Getenv("TRADEENGINE_LOG_LEVEL")))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("falling back to built-in defaults")
		cfg = config.Default()
		if verr := cfg.Validate(); verr != nil {
			return fmt.Errorf("default config invalid: %w", verr)
		}
	}

	profilesPath, _ := cmd.Flags().GetString("profiles")
	profileName, _ := cmd.Flags().GetString("profile")
	profiles := config.DefaultProfiles()
	if profilesPath != "" {
		loaded, perr := config.LoadProfiles(profilesPath)
		if perr != nil {
			return fmt.Errorf("load risk profiles: %w", perr)
		}
		profiles = loaded
	}
	if profileName != "" {
		profiles.Active = profileName
	}
	if active, ok := profiles.ActiveProfile(); ok {
		cfg = active.ApplyTo(cfg)
		if verr := cfg.Validate(); verr != nil {
			return fmt.Errorf("risk profile %q produced an invalid config: %w", profiles.Active, verr)
		}
		log.Info().Str("profile", active.Name).Msg("applied risk profile")
	} else if profiles.Active != "" {
		return fmt.Errorf("risk profile %q not found", profiles.Active)
	}

	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		return fmt.Errorf("market_timezone: %w", err)
	}
	marketOpen, _ := clock.ParseTimeOfDay("09:30")
	cutoff, err := clock.ParseTimeOfDay(cfg.TradingCutoffLocal)
	if err != nil {
		return fmt.Errorf("trading_cutoff_local: %w", err)
	}
	closeAt, err := clock.ParseTimeOfDay(cfg.PositionCloseLocal)
	if err != nil {
		return fmt.Errorf("position_close_local: %w", err)
	}
	window := clock.Window{
		Location:          loc,
		MarketOpen:        marketOpen,
		PostOpenDelay:     cfg.PostOpenDelay(),
		TradingCutoff:     cutoff,
		PositionCloseTime: closeAt,
	}

	wl, err := watchlist.Load(watchlistPath)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}

	seeds := map[string]float64{}
	market := marketdata.NewProvider(
		marketdata.NewPaperSource(seeds),
		cache.NewAuto(),
		map[bars.Timeframe]time.Duration{
			bars.OneMinute:  20 * time.Second,
			bars.FiveMinute: time.Minute,
			bars.Daily:      12 * time.Hour,
		},
		3*time.Second,
		log,
	)
	gapSource := watchlist.NewDailyGapSource(market, cfg.MinGapPct)

	gate := riskgate.New(cfg, window)
	sim := broker.NewSimulated(1_000_000)
	guarded := broker.NewGuarded(sim, cfg.BrokerRateLimitPerMin, "tradeengine")

	var eventStore store.EventStore
	if storeDSN != "" {
		db, err := openPostgres(storeDSN)
		if err != nil {
			return fmt.Errorf("connect event store: %w", err)
		}
		eventStore = store.NewPostgres(db, 5*time.Second)
	} else {
		eventStore = store.NewMemory()
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())

	coord := coordinator.New(cfg, window, market, gate, guarded, wl, gapSource, eventStore, collector, workers, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	go func() {
		if err := serveControl(ctx, socketPath, coord, cancel, log); err != nil {
			log.Error().Err(err).Msg("control socket stopped")
		}
	}()

	log.Info().Str("socket", socketPath).Str("timezone", cfg.MarketTimezone).Msg("tradeengine starting")
	err = coord.Run(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("coordinator run loop: %w", err)
	}
	log.Info().Msg("tradeengine stopped")
	return nil
}
