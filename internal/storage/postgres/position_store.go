// internal/storage/postgres/position_store.go
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a store on a migrated pool.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, asset, symbol, entry_price, size, size_raw::text, decimals, cost_basis,
	entry_time, entry_tx, current_price, peak_price, last_observed,
	target_price, stop_price, trailing_stop_pct, max_hold_ns,
	state, exit_price, exit_time, exit_tx, exit_reason, proceeds, realized_pnl`

// Save upserts p. A second open position for the same asset fails with
// storage.ErrDuplicateOpen.
func (s *PositionStore) Save(ctx context.Context, p position.Position) error {
	query := `
		INSERT INTO positions (
			id, asset, symbol, entry_price, size, size_raw, decimals, cost_basis,
			entry_time, entry_tx, current_price, peak_price, last_observed,
			target_price, stop_price, trailing_stop_pct, max_hold_ns,
			state, exit_price, exit_time, exit_tx, exit_reason, proceeds, realized_pnl,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::numeric, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24,
			now()
		)
		ON CONFLICT (id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			peak_price    = EXCLUDED.peak_price,
			last_observed = EXCLUDED.last_observed,
			state         = EXCLUDED.state,
			exit_price    = EXCLUDED.exit_price,
			exit_time     = EXCLUDED.exit_time,
			exit_tx       = EXCLUDED.exit_tx,
			exit_reason   = EXCLUDED.exit_reason,
			proceeds      = EXCLUDED.proceeds,
			realized_pnl  = EXCLUDED.realized_pnl,
			updated_at    = now()
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Asset, p.Symbol, p.EntryPrice, p.Size, strconv.FormatUint(p.SizeRaw, 10), int16(p.Decimals), p.CostBasis,
		p.EntryTime, p.EntryTx, p.CurrentPrice, p.PeakPrice, nullTime(p.LastObserved),
		p.TargetPrice, p.StopPrice, p.TrailingStopPct, int64(p.MaxHold),
		string(p.State), p.ExitPrice, nullTime(p.ExitTime), p.ExitTx, string(p.ExitReason), p.Proceeds, p.RealizedPnL,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateOpen
		}
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one position by id.
func (s *PositionStore) Get(ctx context.Context, id string) (position.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return position.Position{}, storage.ErrNotFound
		}
		return position.Position{}, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

// LoadOpen returns every open position, oldest entry first.
func (s *PositionStore) LoadOpen(ctx context.Context) ([]position.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE state = $1 ORDER BY entry_time ASC`,
		string(position.StateOpen))
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	return collect(rows)
}

// ListClosed returns positions closed at or after since, oldest exit first.
func (s *PositionStore) ListClosed(ctx context.Context, since time.Time) ([]position.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE state <> $1 AND exit_time >= $2 ORDER BY exit_time ASC`,
		string(position.StateOpen), since)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	return collect(rows)
}

// Close closes the pool.
func (s *PositionStore) Close() error {
	s.pool.Close()
	return nil
}

func collect(rows pgx.Rows) ([]position.Position, error) {
	defer rows.Close()
	var out []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (position.Position, error) {
	var (
		p            position.Position
		sizeRaw      string
		decimals     int16
		lastObserved *time.Time
		maxHold      int64
		state        string
		exitTime     *time.Time
		exitReason   string
	)
	err := row.Scan(
		&p.ID, &p.Asset, &p.Symbol, &p.EntryPrice, &p.Size, &sizeRaw, &decimals, &p.CostBasis,
		&p.EntryTime, &p.EntryTx, &p.CurrentPrice, &p.PeakPrice, &lastObserved,
		&p.TargetPrice, &p.StopPrice, &p.TrailingStopPct, &maxHold,
		&state, &p.ExitPrice, &exitTime, &p.ExitTx, &exitReason, &p.Proceeds, &p.RealizedPnL,
	)
	if err != nil {
		return position.Position{}, err
	}

	if p.SizeRaw, err = strconv.ParseUint(sizeRaw, 10, 64); err != nil {
		return position.Position{}, fmt.Errorf("parse size_raw %q: %w", sizeRaw, err)
	}
	p.Decimals = uint8(decimals)
	p.MaxHold = time.Duration(maxHold)
	p.State = position.State(state)
	p.ExitReason = position.ExitReason(exitReason)
	if lastObserved != nil {
		p.LastObserved = lastObserved.UTC()
	}
	if exitTime != nil {
		p.ExitTime = exitTime.UTC()
	}
	p.EntryTime = p.EntryTime.UTC()
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
