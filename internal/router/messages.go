package router

const (
	msgStart = `👋 Welcome to the trading signals bot!

I deliver trading alerts with entry price, stop loss and profit targets.

Commands:
/subscribe - receive signals (optionally: /subscribe crypto|stocks|etf)
/unsubscribe - stop receiving signals
/status - check your subscription
/help - show this help`

	msgHelp = `Available commands:

/subscribe [all|crypto|stocks|etf] - subscribe to signals
/unsubscribe - unsubscribe from signals
/status - show subscription status
/help - show this message

Signals include symbol, direction, price, confidence, stop loss and profit targets.`

	msgSubscribed        = "✅ You are subscribed. Signals will arrive as soon as they fire."
	msgAlreadySubscribed = "You are already subscribed. Use /status to check your settings."
	msgUnsubscribed      = "You have been unsubscribed. Use /subscribe to come back any time."
	msgNotSubscribed     = "You are not subscribed. Use /subscribe to start receiving signals."
	msgUnknownCommand    = "Unknown command. Use /help to see what I can do."

	// Unexpected failures get a generic acknowledgment; internal detail
	// stays in the logs.
	msgError = "⚠️ Something went wrong. Please try again later."
)
