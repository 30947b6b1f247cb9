package dispatch

import (
	"context"
	"errors"
	"time"

	"signalbot/internal/model"
)

// Config controls the dispatch loop and fan-out.
type Config struct {
	// Schedule is a cron spec or "@every <duration>" descriptor.
	Schedule string
	// Workers caps concurrent delivery attempts within one cycle.
	Workers int
	// RatePerSec bounds outbound sends to respect transport rate limits.
	RatePerSec int
	// SendTimeout bounds each individual transport call.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 30s"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// SignalSource is the slice of the signal store the coordinator needs.
type SignalSource interface {
	ListPendingDispatch(ctx context.Context) ([]model.Signal, error)
	MarkDispatched(ctx context.Context, id int64) error
}

// AudienceSource resolves the current subscriber set.
type AudienceSource interface {
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
}

// CycleStats summarizes one dispatch cycle.
type CycleStats struct {
	Signals    int // pending signals processed
	Recipients int // delivery attempts made
	Delivered  int
	Failed     int
}

// ErrCycleActive is returned when a cycle is requested while another is
// still running. Cycles are serialized; overlapping triggers are skipped.
var ErrCycleActive = errors.New("dispatch cycle already running")
