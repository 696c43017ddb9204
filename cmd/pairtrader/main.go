// Command pairtrader runs the statistical-arbitrage pair-trading engine:
// Market Data Fabric ingestion, Historical Data Adapter reconciliation,
// Signal Generator, Decision Engine, Correlation Validator, Risk Manager
// and Live Simulator, wired once in internal/engine's composition root.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/engine"
	"github.com/sawpanic/pairtrader/internal/hda"
	"github.com/sawpanic/pairtrader/internal/mdf"
	"github.com/sawpanic/pairtrader/internal/persist"
	"github.com/sawpanic/pairtrader/internal/telemetry"
)

const version = "v0.1.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "pairtrader",
		Short:   "Statistical-arbitrage pair-trading engine",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine continuously against live venue feeds",
		RunE:  runEngine,
	}
	runCmd.Flags().String("config", "", "Path to a YAML config overlay (optional)")
	runCmd.Flags().String("pairs", "BTC/USD,ETH/USD", "Comma-separated BASE/QUOTE pairs to trade")
	runCmd.Flags().Float64("capital", 100_000, "Initial notional capital")
	runCmd.Flags().String("metrics-addr", ":9090", "Listen address for /metrics and /health")
	runCmd.Flags().String("dsn", "", "Postgres DSN for persistence (optional; disabled if empty)")
	runCmd.Flags().String("history-days", "90", "Days of history to seed on startup")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one signal/decision cycle per pair and print the results",
		RunE:  runScan,
	}
	scanCmd.Flags().String("config", "", "Path to a YAML config overlay (optional)")
	scanCmd.Flags().String("pairs", "BTC/USD,ETH/USD", "Comma-separated BASE/QUOTE pairs to evaluate")
	scanCmd.Flags().Float64("capital", 100_000, "Initial notional capital")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check reachability of a running engine's /health endpoint",
		RunE:  runHealthCheck,
	}
	healthCmd.Flags().String("addr", "http://localhost:9090/health", "Engine health endpoint URL")

	rootCmd.AddCommand(runCmd, scanCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func parsePairs(raw string) ([]engine.Pair, error) {
	parts := strings.Split(raw, ",")
	pairs := make([]engine.Pair, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		legs := strings.SplitN(p, "/", 2)
		if len(legs) != 2 {
			return nil, fmt.Errorf("invalid pair %q, expected BASE/QUOTE", p)
		}
		base := strings.ToUpper(strings.TrimSpace(legs[0]))
		quote := strings.ToUpper(strings.TrimSpace(legs[1]))
		pairs = append(pairs, engine.Pair{
			Symbol: engine.PairSymbol(base, quote),
			Base:   base,
			Quote:  quote,
		})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs given")
	}
	return pairs, nil
}

// buildEngine wires MDF, HDA and the Engine composition root the same way
// for both "run" and "scan": a Kraken websocket stream per asset leg, a
// single Kraken REST source for HDA, and the Engine itself.
func buildEngine(cfg *config.Config, pairs []engine.Pair, capital float64) (*mdf.Fabric, *hda.Adapter, *engine.Engine) {
	assets := map[string]bool{}
	for _, p := range pairs {
		assets[p.Base] = true
		assets[p.Quote] = true
	}

	streams := make([]mdf.VenueStream, 0, len(assets))
	for asset := range assets {
		wsURL := "wss://ws.kraken.com/v2"
		streams = append(streams, mdf.NewWSStream(asset, wsURL, mdf.ParseKrakenTicker, log.Logger))
	}

	fabric := mdf.New(cfg.MDF, streams, log.Logger)

	sources := []hda.SourceConfig{{Name: "kraken", Reliability: 1.0, RateLimitQPS: 1}}
	clients := map[string]hda.Source{"kraken": hda.NewKrakenSource("", nil)}
	cache := hda.NewCache(nil, time.Duration(cfg.HDA.MaxCacheAge)*time.Second)
	hdaSrc := hda.NewAdapter(cfg.HDA, sources, clients, cache)

	eng := engine.New(cfg, fabric, hdaSrc, pairs, capital, log.Logger)
	return fabric, hdaSrc, eng
}

func runEngine(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	pairsFlag, _ := cmd.Flags().GetString("pairs")
	capital, _ := cmd.Flags().GetFloat64("capital")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dsn, _ := cmd.Flags().GetString("dsn")
	historyDays, _ := cmd.Flags().GetString("history-days")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	pairs, err := parsePairs(pairsFlag)
	if err != nil {
		return err
	}

	fabric, _, eng := buildEngine(cfg, pairs, capital)

	metrics := telemetry.New()
	eng.SetMetrics(metrics)

	if dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := persist.Open(ctx, persist.Config{DSN: dsn})
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to persistence store: %w", err)
		}
		defer store.Close()
		eng.SetStore(store)
		log.Info().Msg("persistence enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	days := parseDays(historyDays)
	now := time.Now()
	eng.RefreshHistory(ctx, now.Add(-days), now, "1d", int(days.Hours()/24))

	go fabric.Run(ctx)
	go eng.Run(ctx)

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/health", metrics.HealthHandler(func() telemetry.HealthStatus {
		snap := eng.Snapshot(time.Now(), "")
		return telemetry.HealthStatus{
			Timestamp:      time.Now(),
			PortfolioValue: snap.PortfolioValue,
			Drawdown:       snap.Drawdown,
			OpenPositions:  snap.OpenCount,
			DominantRegime: snap.DominantRegime,
		}
	})).Methods("GET")

	server := &http.Server{
		Addr:         metricsAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("metrics/health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("metrics server error: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runScan(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	pairsFlag, _ := cmd.Flags().GetString("pairs")
	capital, _ := cmd.Flags().GetFloat64("capital")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	pairs, err := parsePairs(pairsFlag)
	if err != nil {
		return err
	}

	fabric, _, eng := buildEngine(cfg, pairs, capital)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	eng.RefreshHistory(ctx, now.Add(-90*24*time.Hour), now, "1d", 90)

	fabricCtx, fabricCancel := context.WithTimeout(context.Background(), 5*time.Second)
	go fabric.Run(fabricCtx)
	time.Sleep(2 * time.Second)
	fabricCancel()

	for _, p := range pairs {
		sig := eng.SignalFor(p, now)
		fmt.Printf("%s  strength=%.2f confidence=%.2f predicted_return=%.4f regime=%s\n",
			p.Symbol, sig.Strength, sig.Confidence, sig.PredictedReturn, sig.Regime)
		eng.Cycle(p, now)
	}

	snap := eng.Snapshot(now, "")
	fmt.Printf("portfolio_value=%.2f drawdown=%.4f open_positions=%d regime=%s\n",
		snap.PortfolioValue, snap.Drawdown, snap.OpenCount, snap.DominantRegime)

	return nil
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	fmt.Println("ok")
	return nil
}

func parseDays(raw string) time.Duration {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		n = 90
	}
	return time.Duration(n) * 24 * time.Hour
}
