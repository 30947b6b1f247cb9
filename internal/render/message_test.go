package render

import (
	"strings"
	"testing"

	"signalbot/internal/model"
)

func TestSignalMessage(t *testing.T) {
	t.Parallel()
	sig := &model.Signal{
		Symbol:      "BTC-USD",
		AssetClass:  model.AssetCrypto,
		Direction:   model.DirectionBuy,
		Price:       65000,
		Confidence:  75,
		StopLoss:    63000,
		TakeProfit1: 68000,
		TakeProfit2: 71000,
		MaxHoldDays: 14,
	}

	msg := Signal(sig)
	for _, want := range []string{"BTC-USD", "BUY", "$65000", "75%", "$63000", "$68000", "$71000", "14 days"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSignalMessageOmitsAbsentSecondTarget(t *testing.T) {
	t.Parallel()
	sig := &model.Signal{
		Symbol:      "AAPL",
		AssetClass:  model.AssetStock,
		Direction:   model.DirectionSell,
		Price:       189.5,
		Confidence:  82,
		StopLoss:    195,
		TakeProfit1: 180,
		MaxHoldDays: 7,
	}

	msg := Signal(sig)
	if strings.Contains(msg, "Target 2") {
		t.Fatalf("absent second target rendered:\n%s", msg)
	}
	if !strings.Contains(msg, "SELL") || !strings.Contains(msg, "$189.50") {
		t.Fatalf("unexpected message:\n%s", msg)
	}
}
