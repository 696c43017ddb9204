// Package persist appends the engine's emitted records (position closes,
// risk violations, portfolio snapshots) to Postgres, grounded on the
// koshedutech-binance-trading-app teacher's pgxpool.Pool repository shape
// (spec.md §6.4: these are write-once, append-only emissions — no update
// path is needed the way position_states.go's upsert is).
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sawpanic/pairtrader/internal/risk"
	"github.com/sawpanic/pairtrader/internal/simulator"
)

// Config holds the connection parameters for the append-only store.
type Config struct {
	DSN         string
	MaxConns    int32
	MaxConnIdle time.Duration
}

// Store wraps the connection pool and exposes one insert method per
// emitted record kind.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses cfg.DSN, builds a pool and pings it once.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persist: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// SavePositionRecord appends LS's position-close emission (spec.md §6.4).
func (s *Store) SavePositionRecord(ctx context.Context, instance string, rec simulator.PositionRecord) error {
	const q = `
		INSERT INTO position_records (
			instance, position_id, pair, opened_at, closed_at, holding_period_ms,
			entry_price, executed_price, exit_price, exit_reason, direction,
			position_size, realized_pnl, realized_return_pct, transaction_cost,
			slippage, max_favorable_excursion, max_adverse_excursion, signal_id,
			predicted_return
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	_, err := s.pool.Exec(ctx, q,
		instance, rec.ID, rec.Pair, rec.OpenedAt, rec.ClosedAt, rec.HoldingPeriod.Milliseconds(),
		rec.EntryPrice, rec.ExecutedPrice, rec.ExitPrice, rec.ExitReason, string(rec.Direction),
		rec.PositionSize, rec.RealizedPnL, rec.RealizedReturnPct, rec.TransactionCost,
		rec.Slippage, rec.MaxFavorableExcursion, rec.MaxAdverseExcursion, rec.SignalID,
		rec.PredictedReturn,
	)
	if err != nil {
		return fmt.Errorf("persist: save position record: %w", err)
	}
	return nil
}

// SaveViolation appends one RM-detected risk violation (spec.md §6.4).
func (s *Store) SaveViolation(ctx context.Context, instance string, v risk.Violation) error {
	const q = `
		INSERT INTO risk_violations (
			instance, violation_id, detected_at, kind, severity,
			current_value, limit_value, affected_position_id, resolved
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.pool.Exec(ctx, q,
		instance, v.ID, v.DetectedAt, string(v.Kind), v.Severity,
		v.CurrentValue, v.LimitValue, v.AffectedPositionID, v.Resolved,
	)
	if err != nil {
		return fmt.Errorf("persist: save violation: %w", err)
	}
	return nil
}

// SavePortfolioSnapshot appends one periodic LS portfolio snapshot (spec.md
// §6.4), labelled with the caller-supplied source; the engine writes one
// with source "risk_manager" on each RM assessment.
func (s *Store) SavePortfolioSnapshot(ctx context.Context, instance, source string, snap simulator.PortfolioSnapshot) error {
	const q = `
		INSERT INTO portfolio_snapshots (
			instance, source, ts, portfolio_value, drawdown, open_count,
			long_count, short_count, gross_exposure, net_exposure, leverage,
			dominant_regime, trs_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err := s.pool.Exec(ctx, q,
		instance, source, snap.TS, snap.PortfolioValue, snap.Drawdown, snap.OpenCount,
		snap.LongCount, snap.ShortCount, snap.GrossExposure, snap.NetExposure, snap.Leverage,
		snap.DominantRegime, snap.TRSStatus,
	)
	if err != nil {
		return fmt.Errorf("persist: save portfolio snapshot: %w", err)
	}
	return nil
}
