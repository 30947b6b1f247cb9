package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalbot/internal/model"
	"signalbot/pkg/logx"
)

const signalCols = `id, symbol, asset_class, direction, price, confidence, indicators,
	stop_loss, take_profit_1, take_profit_2, max_hold_days, created_at, is_active, sent_to_users`

// CreateSignal validates and persists a new signal. The row starts active
// and undispatched. Invalid payloads are rejected with model.ErrValidation
// and nothing is written.
func (s *Store) CreateSignal(ctx context.Context, in model.SignalInput) (*model.Signal, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	indicators := in.Indicators
	if indicators == nil {
		indicators = map[string]any{}
	}
	blob, err := json.Marshal(indicators)
	if err != nil {
		return nil, fmt.Errorf("%w: indicators not serializable: %v", model.ErrValidation, err)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals(symbol, asset_class, direction, price, confidence, indicators,
			stop_loss, take_profit_1, take_profit_2, max_hold_days, created_at, is_active, sent_to_users)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,1,0)`,
		in.Symbol, string(in.AssetClass), string(in.Direction), in.Price, in.Confidence, string(blob),
		in.StopLoss, in.TakeProfit1, nullFloat(in.TakeProfit2), in.MaxHoldDays, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create signal id: %w", err)
	}

	s.log.Info("signal created",
		logx.Int64("id", id),
		logx.String("symbol", in.Symbol),
		logx.String("direction", string(in.Direction)),
		logx.Float64("price", in.Price),
		logx.Int("confidence", in.Confidence))

	return &model.Signal{
		ID:          id,
		Symbol:      in.Symbol,
		AssetClass:  in.AssetClass,
		Direction:   in.Direction,
		Price:       in.Price,
		Confidence:  in.Confidence,
		Indicators:  indicators,
		StopLoss:    in.StopLoss,
		TakeProfit1: in.TakeProfit1,
		TakeProfit2: in.TakeProfit2,
		MaxHoldDays: in.MaxHoldDays,
		CreatedAt:   now.UTC(),
		IsActive:    true,
		SentToUsers: false,
	}, nil
}

// GetSignal returns a signal by id, or (nil, nil) if it does not exist.
func (s *Store) GetSignal(ctx context.Context, id int64) (*model.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalCols+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get signal %d: %w", id, err)
	}
	return sig, nil
}

// ListPendingDispatch returns active signals not yet sent, oldest first.
func (s *Store) ListPendingDispatch(ctx context.Context) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalCols+` FROM signals WHERE is_active = 1 AND sent_to_users = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, *sig)
	}
	return out, rows.Err()
}

// MarkDispatched flips sent_to_users on. It is idempotent: marking an
// already-sent signal is a no-op, not an error.
func (s *Store) MarkDispatched(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET sent_to_users = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark signal %d dispatched: %w", id, err)
	}
	s.log.Info("signal marked dispatched", logx.Int64("id", id))
	return nil
}

// DeactivateSignal invalidates a signal before dispatch (e.g. the analysis
// engine withdrew it). Already-sent signals are unaffected by activity state.
func (s *Store) DeactivateSignal(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate signal %d: %w", id, err)
	}
	return nil
}

func scanSignal(r rowScanner) (*model.Signal, error) {
	var (
		sig        model.Signal
		class      string
		direction  string
		indicators string
		tp2        sql.NullFloat64
		created    string
		active     int
		sent       int
	)
	if err := r.Scan(&sig.ID, &sig.Symbol, &class, &direction, &sig.Price, &sig.Confidence, &indicators,
		&sig.StopLoss, &sig.TakeProfit1, &tp2, &sig.MaxHoldDays, &created, &active, &sent); err != nil {
		return nil, err
	}
	sig.AssetClass = model.AssetClass(class)
	sig.Direction = model.Direction(direction)
	sig.TakeProfit2 = tp2.Float64
	sig.CreatedAt = parseTime(created)
	sig.IsActive = active != 0
	sig.SentToUsers = sent != 0
	if indicators != "" {
		// Opaque blob; a decode failure only loses the supporting data.
		_ = json.Unmarshal([]byte(indicators), &sig.Indicators)
	}
	return &sig, nil
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
