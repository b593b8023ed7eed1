package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/vnquant/signalbot/internal/candle"
	"github.com/vnquant/signalbot/internal/db/conf"
	"github.com/vnquant/signalbot/internal/journal"
	"github.com/vnquant/signalbot/internal/signal"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	return &Default{db: c.DB}, nil
}

// Open connects to Postgres with the given connection string and pool limits.
func Open(connStr string, maxOpen, maxIdle int) (*Default, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Default{db: db}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// -------- SignalStore --------

const signalColumns = `id, symbol, timeframe, timestamp, type, price, confidence, original_confidence,
	reasoning, stop_loss, take_profit, position_size_pct, risk_reward,
	is_executed, execution_price, is_closed, close_price, close_reason, close_timestamp,
	profit_loss_pct, holding_days, created_at`

func (p *Default) SaveSignal(ctx context.Context, s signal.Signal) error {
	reasoning, err := json.Marshal(s.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to encode reasoning for signal %s: %w", s.ID, err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO UPDATE SET
			type=EXCLUDED.type, confidence=EXCLUDED.confidence, reasoning=EXCLUDED.reasoning,
			stop_loss=EXCLUDED.stop_loss, take_profit=EXCLUDED.take_profit,
			position_size_pct=EXCLUDED.position_size_pct, risk_reward=EXCLUDED.risk_reward`,
			s.ID, s.Symbol, s.Timeframe, s.Timestamp, string(s.Type), s.Price, s.Confidence, s.OriginalConfidence,
			reasoning, s.StopLoss, s.TakeProfit, s.PositionSizePct, s.RiskReward,
			s.IsExecuted, s.ExecutionPrice, s.IsClosed, s.ClosePrice, nullString(s.CloseReason), nullTime(s.CloseTime),
			s.ProfitLossPct, s.HoldingDays, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save signal %s for %s: %w", s.ID, s.Symbol, err)
		}
		return nil
	})
}

func (p *Default) GetSignal(ctx context.Context, id string) (*signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT `+signalColumns+` FROM signals WHERE id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	s, err := scanSignal(rows)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Default) MarkExecuted(ctx context.Context, id string, executionPrice float64) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE signals SET is_executed=TRUE, execution_price=$2
			WHERE id=$1 AND is_closed=FALSE`, id, executionPrice)
		if err != nil {
			return fmt.Errorf("failed to mark signal %s executed: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for signal %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("signal %s not found or already closed", id)
		}
		return nil
	})
}

func (p *Default) CloseSignal(ctx context.Context, id string, closePrice float64, reason string, profitLossPct float64, holdingDays int, closedAt time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE signals SET is_closed=TRUE, close_price=$2, close_reason=$3,
				profit_loss_pct=$4, holding_days=$5, close_timestamp=$6
			WHERE id=$1 AND is_closed=FALSE`,
			id, closePrice, reason, profitLossPct, holdingDays, closedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to close signal %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for signal %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("signal %s not found or already closed", id)
		}
		return nil
	})
}

func (p *Default) GetOpenSignals(ctx context.Context) ([]signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE is_executed=TRUE AND is_closed=FALSE
		ORDER BY symbol ASC, timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func (p *Default) GetClosedSignals(ctx context.Context, symbol string) ([]signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE symbol=$1 AND is_closed=TRUE
		ORDER BY close_timestamp ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed signals for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func (p *Default) GetRecentSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE symbol=$1
		ORDER BY timestamp DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(rows rowScanner) (signal.Signal, error) {
	var s signal.Signal
	var typ string
	var reasoning []byte
	var closeReason sql.NullString
	var closeTime sql.NullTime

	if err := rows.Scan(&s.ID, &s.Symbol, &s.Timeframe, &s.Timestamp, &typ, &s.Price, &s.Confidence, &s.OriginalConfidence,
		&reasoning, &s.StopLoss, &s.TakeProfit, &s.PositionSizePct, &s.RiskReward,
		&s.IsExecuted, &s.ExecutionPrice, &s.IsClosed, &s.ClosePrice, &closeReason, &closeTime,
		&s.ProfitLossPct, &s.HoldingDays, &s.CreatedAt); err != nil {
		return signal.Signal{}, fmt.Errorf("failed to scan signal: %w", err)
	}
	s.Type = signal.Type(typ)
	s.Timestamp = s.Timestamp.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if closeReason.Valid {
		s.CloseReason = closeReason.String
	}
	if closeTime.Valid {
		s.CloseTime = closeTime.Time.UTC()
	}
	if len(reasoning) > 0 {
		if err := json.Unmarshal(reasoning, &s.Reasoning); err != nil {
			return signal.Signal{}, fmt.Errorf("failed to decode reasoning for signal %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func scanSignals(rows *sql.Rows) ([]signal.Signal, error) {
	var out []signal.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// -------- CandleStore --------

func (p *Default) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Timeframe, c.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, timestamp, source) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			if _, err := stmt.ExecContext(ctx,
				c.Symbol, c.Timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *Default) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	query := `
		SELECT timestamp, open, high, low, close, volume, symbol, timeframe, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp < $4`
	args := []any{symbol, timeframe, start, end}
	if source != "" {
		query += ` AND source=$5`
		args = append(args, source)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Symbol, &c.Timeframe, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (p *Default) GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT timestamp, open, high, low, close, volume, symbol, timeframe, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2
		ORDER BY timestamp DESC
		LIMIT 1`, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var c candle.Candle
	if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Symbol, &c.Timeframe, &c.Source); err != nil {
		return nil, fmt.Errorf("failed to scan candle: %w", err)
	}
	c.Timestamp = c.Timestamp.UTC()
	return &c, nil
}

// -------- Journaler --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (time, type, description, data)
			VALUES ($1,$2,$3,$4)`,
			event.Time.UTC(), event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, type, description, data FROM events
		WHERE type=$1 AND time >= $2 AND time < $3
		ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
