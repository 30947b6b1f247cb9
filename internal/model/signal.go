package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrValidation marks a malformed payload rejected before persistence.
var ErrValidation = errors.New("validation")

// Confidence bounds the analysis engine may submit. Anything outside is
// rejected at creation and never persisted.
const (
	MinConfidence = 60
	MaxConfidence = 100
)

// AssetClass categorizes a signal's instrument.
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetStock  AssetClass = "stock"
	AssetETF    AssetClass = "etf"
)

// Direction is the recommended side of the trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Signal is a discrete trading recommendation with dispatch state.
//
// SentToUsers is monotonic: once true it never reverts, which is what keeps
// dispatch idempotent across restarts.
type Signal struct {
	ID          int64
	Symbol      string
	AssetClass  AssetClass
	Direction   Direction
	Price       float64
	Confidence  int
	Indicators  map[string]any // opaque supporting indicator data
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64 // optional; 0 means not set
	MaxHoldDays int
	CreatedAt   time.Time
	IsActive    bool
	SentToUsers bool
}

// SignalInput is the payload accepted from the analysis engine.
type SignalInput struct {
	Symbol      string
	AssetClass  AssetClass
	Direction   Direction
	Price       float64
	Confidence  int
	Indicators  map[string]any
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64 // optional
	MaxHoldDays int
}

// Validate checks the payload before it reaches the store.
func (in SignalInput) Validate() error {
	if strings.TrimSpace(in.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	switch in.AssetClass {
	case AssetCrypto, AssetStock, AssetETF:
	default:
		return fmt.Errorf("%w: unknown asset class %q", ErrValidation, in.AssetClass)
	}
	switch in.Direction {
	case DirectionBuy, DirectionSell:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrValidation, in.Direction)
	}
	if in.Confidence < MinConfidence || in.Confidence > MaxConfidence {
		return fmt.Errorf("%w: confidence %d out of range [%d,%d]", ErrValidation, in.Confidence, MinConfidence, MaxConfidence)
	}
	if err := finitePositive("price", in.Price); err != nil {
		return err
	}
	if err := finitePositive("stop_loss", in.StopLoss); err != nil {
		return err
	}
	if err := finitePositive("take_profit_1", in.TakeProfit1); err != nil {
		return err
	}
	// TakeProfit2 is optional; zero means absent.
	if in.TakeProfit2 != 0 {
		if err := finitePositive("take_profit_2", in.TakeProfit2); err != nil {
			return err
		}
	}
	if in.MaxHoldDays <= 0 {
		return fmt.Errorf("%w: max_hold_days must be positive, got %d", ErrValidation, in.MaxHoldDays)
	}
	return nil
}

func finitePositive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return fmt.Errorf("%w: %s must be a finite positive number, got %v", ErrValidation, field, v)
	}
	return nil
}
