package router

import (
	"context"
	"errors"
	"fmt"

	"signalbot/internal/model"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

func (r *Router) handleStart(ctx context.Context, msg *transport.Message, _ []string) (string, error) {
	if _, err := r.store.GetOrCreate(ctx, msg.FromID, msg.FromUsername, firstName(msg)); err != nil {
		return "", err
	}
	return msgStart, nil
}

func (r *Router) handleHelp(_ context.Context, _ *transport.Message, _ []string) (string, error) {
	return msgHelp, nil
}

func (r *Router) handleSubscribe(ctx context.Context, msg *transport.Message, args []string) (string, error) {
	typ := model.SubscriptionAll
	if len(args) > 0 {
		t, err := model.ParseSubscriptionType(args[0])
		if errors.Is(err, model.ErrValidation) {
			return "Unknown category. Use: /subscribe [all|crypto|stocks|etf]", nil
		}
		if err != nil {
			return "", err
		}
		typ = t
	}

	sub, err := r.store.GetOrCreate(ctx, msg.FromID, msg.FromUsername, firstName(msg))
	if err != nil {
		return "", err
	}
	if sub.Subscribed && sub.SubscriptionType == typ {
		return msgAlreadySubscribed, nil
	}

	if _, err := r.store.SetSubscription(ctx, msg.FromID, true, typ); err != nil {
		return "", err
	}
	r.log.Info("user subscribed", logx.Int64("telegram_id", msg.FromID), logx.String("type", string(typ)))
	return msgSubscribed, nil
}

func (r *Router) handleUnsubscribe(ctx context.Context, msg *transport.Message, _ []string) (string, error) {
	sub, err := r.store.GetByTelegramID(ctx, msg.FromID)
	if err != nil {
		return "", err
	}
	if sub == nil || !sub.Subscribed {
		return msgNotSubscribed, nil
	}

	if _, err := r.store.SetSubscription(ctx, msg.FromID, false, sub.SubscriptionType); err != nil {
		return "", err
	}
	r.log.Info("user unsubscribed", logx.Int64("telegram_id", msg.FromID))
	return msgUnsubscribed, nil
}

func (r *Router) handleStatus(ctx context.Context, msg *transport.Message, _ []string) (string, error) {
	sub, err := r.store.GetByTelegramID(ctx, msg.FromID)
	if err != nil {
		return "", err
	}
	if sub == nil || !sub.Subscribed {
		return msgNotSubscribed, nil
	}

	count, err := r.store.CountActiveSubscribers(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"📊 Subscription status\n\nActive: yes\nCategory: %s\nSince: %s\nActive subscribers: %d",
		sub.SubscriptionType, sub.CreatedAt.Format("02.01.2006"), count), nil
}

func firstName(msg *transport.Message) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	return "Unknown"
}
