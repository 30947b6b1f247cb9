package model

import (
	"fmt"
	"time"
)

// SubscriptionType filters which signal categories a subscriber receives.
type SubscriptionType string

const (
	SubscriptionAll    SubscriptionType = "all"
	SubscriptionCrypto SubscriptionType = "crypto"
	SubscriptionStocks SubscriptionType = "stocks"
	SubscriptionETF    SubscriptionType = "etf"
)

// ParseSubscriptionType validates a user-provided subscription type.
// An empty string defaults to SubscriptionAll.
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	switch SubscriptionType(s) {
	case "":
		return SubscriptionAll, nil
	case SubscriptionAll, SubscriptionCrypto, SubscriptionStocks, SubscriptionETF:
		return SubscriptionType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown subscription type %q", ErrValidation, s)
	}
}

// Matches reports whether a subscriber with this type should receive
// a signal of the given asset class.
func (t SubscriptionType) Matches(class AssetClass) bool {
	switch t {
	case SubscriptionAll:
		return true
	case SubscriptionCrypto:
		return class == AssetCrypto
	case SubscriptionStocks:
		return class == AssetStock
	case SubscriptionETF:
		return class == AssetETF
	default:
		return false
	}
}

// Subscriber is a bot recipient and its subscription state.
//
// TelegramID is the external identity; it is unique and never changes.
// A subscriber row is never deleted: unsubscribing flips Subscribed off.
type Subscriber struct {
	ID               int64
	TelegramID       int64
	Username         string // optional
	FirstName        string
	Subscribed       bool
	SubscriptionType SubscriptionType
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
