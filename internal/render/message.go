// Package render formats signals into Telegram HTML messages.
package render

import (
	"fmt"
	"strings"

	"signalbot/internal/model"
)

// Signal formats a trading signal for delivery.
func Signal(sig *model.Signal) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s <b>%s Signal: %s</b>\n\n",
		directionEmoji(sig.Direction), strings.ToUpper(string(sig.Direction)), sig.Symbol))

	b.WriteString(fmt.Sprintf("Asset: %s\n", assetLabel(sig.AssetClass)))
	b.WriteString(fmt.Sprintf("Price: %s\n", formatPrice(sig.Price)))
	b.WriteString(fmt.Sprintf("Confidence: %d%%\n\n", sig.Confidence))

	b.WriteString("🎯 <b>Risk parameters:</b>\n")
	b.WriteString(fmt.Sprintf("  Stop loss: %s\n", formatPrice(sig.StopLoss)))
	b.WriteString(fmt.Sprintf("  Target 1: %s\n", formatPrice(sig.TakeProfit1)))
	if sig.TakeProfit2 > 0 {
		b.WriteString(fmt.Sprintf("  Target 2: %s\n", formatPrice(sig.TakeProfit2)))
	}
	b.WriteString(fmt.Sprintf("  Max hold: %d days\n", sig.MaxHoldDays))

	return b.String()
}

func directionEmoji(d model.Direction) string {
	if d == model.DirectionSell {
		return "🔴"
	}
	return "🟢"
}

func assetLabel(c model.AssetClass) string {
	switch c {
	case model.AssetCrypto:
		return "Crypto"
	case model.AssetStock:
		return "Stock"
	case model.AssetETF:
		return "ETF"
	default:
		return string(c)
	}
}

func formatPrice(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("$%.0f", v)
	}
	if v >= 1 {
		return fmt.Sprintf("$%.2f", v)
	}
	return fmt.Sprintf("$%.6f", v)
}
