package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalbot/internal/model"
	"signalbot/pkg/logx"
)

const subscriberCols = `id, telegram_id, username, first_name, subscribed, subscription_type, created_at, updated_at`

// GetByTelegramID returns the subscriber for an external identity.
// Absence is not an error: it returns (nil, nil) when no row exists.
func (s *Store) GetByTelegramID(ctx context.Context, telegramID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberCols+` FROM subscribers WHERE telegram_id = ?`, telegramID)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber %d: %w", telegramID, err)
	}
	return sub, nil
}

// GetOrCreate returns the subscriber for telegramID, inserting an
// unsubscribed row on first contact.
//
// The insert uses ON CONFLICT DO NOTHING against the telegram_id unique
// constraint, so concurrent first contacts resolve to a single surviving row
// and the loser falls through to the read.
func (s *Store) GetOrCreate(ctx context.Context, telegramID int64, username, firstName string) (*model.Subscriber, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(telegram_id, username, first_name, subscribed, subscription_type, created_at, updated_at)
		 VALUES(?,?,?,0,?,?,?)
		 ON CONFLICT(telegram_id) DO NOTHING`,
		telegramID, nullStr(username), firstName, string(model.SubscriptionAll), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create subscriber %d: %w", telegramID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("subscriber created",
			logx.Int64("telegram_id", telegramID), logx.String("username", username))
	}

	sub, err := s.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		// Row vanished between insert and read; subscribers are never deleted,
		// so this indicates a broken database.
		return nil, fmt.Errorf("subscriber %d missing after upsert", telegramID)
	}
	return sub, nil
}

// SetSubscription updates the subscription state and bumps updated_at.
// It returns (nil, nil) when the identity is unknown; callers wanting
// get-or-create semantics must call GetOrCreate first.
func (s *Store) SetSubscription(ctx context.Context, telegramID int64, subscribed bool, typ model.SubscriptionType) (*model.Subscriber, error) {
	if typ == "" {
		typ = model.SubscriptionAll
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET subscribed = ?, subscription_type = ?, updated_at = ? WHERE telegram_id = ?`,
		boolToInt(subscribed), string(typ), formatTime(time.Now()), telegramID,
	)
	if err != nil {
		return nil, fmt.Errorf("set subscription %d: %w", telegramID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	s.log.Info("subscription updated",
		logx.Int64("telegram_id", telegramID),
		logx.Bool("subscribed", subscribed),
		logx.String("type", string(typ)))
	return s.GetByTelegramID(ctx, telegramID)
}

// ListActiveSubscribers returns every subscriber with an active subscription.
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberCols+` FROM subscribers WHERE subscribed = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var out []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// CountActiveSubscribers returns the number of active subscriptions.
func (s *Store) CountActiveSubscribers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE subscribed = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active subscribers: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(r rowScanner) (*model.Subscriber, error) {
	var (
		sub        model.Subscriber
		username   sql.NullString
		subTyp     string
		subscribed int
		created    string
		updated    string
	)
	if err := r.Scan(&sub.ID, &sub.TelegramID, &username, &sub.FirstName, &subscribed, &subTyp, &created, &updated); err != nil {
		return nil, err
	}
	sub.Username = username.String
	sub.Subscribed = subscribed != 0
	sub.SubscriptionType = model.SubscriptionType(subTyp)
	sub.CreatedAt = parseTime(created)
	sub.UpdatedAt = parseTime(updated)
	return &sub, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
