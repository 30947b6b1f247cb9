package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"signalbot/internal/model"
	"signalbot/internal/store"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  map[int64]int // chat id -> delivery attempts
	fail  map[int64]error
	texts []string

	// blockUntil, when set, makes SendText wait for ctx cancellation.
	blockUntilCancel bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sent: map[int64]int{}, fail: map[int64]error{}}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	block := f.blockUntilCancel
	f.sent[to.ChatID]++
	f.texts = append(f.texts, text)
	err := f.fail[to.ChatID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return transport.MessageRef{}, ctx.Err()
	}
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) attempts(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[chatID]
}

func (f *fakeAdapter) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.sent {
		n += c
	}
	return n
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func cryptoSignal() model.SignalInput {
	return model.SignalInput{
		Symbol:      "BTC-USD",
		AssetClass:  model.AssetCrypto,
		Direction:   model.DirectionBuy,
		Price:       65000,
		Confidence:  75,
		StopLoss:    63000,
		TakeProfit1: 68000,
		MaxHoldDays: 14,
	}
}

func addSubscriber(t *testing.T, s *store.Store, id int64, typ model.SubscriptionType) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, id, "", "User"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := s.SetSubscription(ctx, id, true, typ); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
}

func TestCycleDeliversToMatchingAudienceOnce(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	addSubscriber(t, s, 1, model.SubscriptionAll)
	addSubscriber(t, s, 2, model.SubscriptionCrypto)
	addSubscriber(t, s, 3, model.SubscriptionStocks)

	sig, err := s.CreateSignal(ctx, cryptoSignal())
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ad := newFakeAdapter()
	c := New(Config{}, s, s, ad, logx.Nop())

	stats, err := c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Signals != 1 || stats.Delivered != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if ad.attempts(1) != 1 || ad.attempts(2) != 1 {
		t.Fatalf("matching subscribers should get exactly one attempt: all=%d crypto=%d", ad.attempts(1), ad.attempts(2))
	}
	if ad.attempts(3) != 0 {
		t.Fatalf("stocks subscriber got a crypto signal: %d attempts", ad.attempts(3))
	}

	got, err := s.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if !got.SentToUsers {
		t.Fatal("signal not marked dispatched")
	}

	// Second cycle: nothing pending, no re-delivery.
	stats, err = c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if stats.Signals != 0 || ad.totalAttempts() != 2 {
		t.Fatalf("second cycle re-dispatched: stats=%+v attempts=%d", stats, ad.totalAttempts())
	}
}

func TestCycleMarksDespitePartialFailure(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	addSubscriber(t, s, 10, model.SubscriptionAll)
	addSubscriber(t, s, 11, model.SubscriptionAll)

	sig, err := s.CreateSignal(ctx, cryptoSignal())
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ad := newFakeAdapter()
	ad.fail[10] = errors.New("bot was blocked by the user")
	c := New(Config{}, s, s, ad, logx.Nop())

	stats, err := c.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Delivered != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if ad.attempts(11) != 1 {
		t.Fatalf("healthy recipient attempts = %d, want 1", ad.attempts(11))
	}

	got, err := s.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if !got.SentToUsers {
		t.Fatal("partial failure must not block the dispatch mark")
	}
}

func TestCycleEmptyAudienceStillMarks(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	sig, err := s.CreateSignal(ctx, cryptoSignal())
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ad := newFakeAdapter()
	c := New(Config{}, s, s, ad, logx.Nop())
	if _, err := c.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	got, _ := s.GetSignal(ctx, sig.ID)
	if !got.SentToUsers {
		t.Fatal("signal with empty audience should still be marked dispatched")
	}
	if ad.totalAttempts() != 0 {
		t.Fatalf("no deliveries expected, got %d", ad.totalAttempts())
	}
}

func TestCycleNoopWhenNothingPending(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	addSubscriber(t, s, 20, model.SubscriptionAll)

	ad := newFakeAdapter()
	c := New(Config{}, s, s, ad, logx.Nop())
	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats != (CycleStats{}) || ad.totalAttempts() != 0 {
		t.Fatalf("empty poll should be a no-op: stats=%+v attempts=%d", stats, ad.totalAttempts())
	}
}

type failingSignals struct{ err error }

func (f failingSignals) ListPendingDispatch(ctx context.Context) ([]model.Signal, error) {
	return nil, f.err
}
func (f failingSignals) MarkDispatched(ctx context.Context, id int64) error { return f.err }

func TestCycleAbortsWhenStoreUnavailable(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	addSubscriber(t, s, 30, model.SubscriptionAll)

	ad := newFakeAdapter()
	storeErr := errors.New("database is locked")
	c := New(Config{}, failingSignals{err: storeErr}, s, ad, logx.Nop())

	_, err := c.RunCycle(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
	if ad.totalAttempts() != 0 {
		t.Fatalf("no delivery attempts may happen when fetch-pending fails, got %d", ad.totalAttempts())
	}
}

func TestCyclesAreSerialized(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addSubscriber(t, s, 40, model.SubscriptionAll)
	if _, err := s.CreateSignal(context.Background(), cryptoSignal()); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ad := newFakeAdapter()
	ad.blockUntilCancel = true
	c := New(Config{SendTimeout: time.Minute}, s, s, ad, logx.Nop())

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = c.RunCycle(ctx)
	}()
	<-started

	// Wait until the first cycle is inside the fan-out (holding the latch).
	deadline := time.After(2 * time.Second)
	for ad.totalAttempts() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never started sending")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := c.RunCycle(context.Background()); !errors.Is(err, ErrCycleActive) {
		t.Fatalf("overlapping cycle should be rejected, got %v", err)
	}

	cancel()
	<-done
}

func TestInterruptedCycleLeavesSignalPending(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	addSubscriber(t, s, 50, model.SubscriptionAll)
	sig, err := s.CreateSignal(context.Background(), cryptoSignal())
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ad := newFakeAdapter()
	ad.blockUntilCancel = true
	c := New(Config{SendTimeout: time.Minute}, s, s, ad, logx.Nop())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.RunCycle(ctx)
		errCh <- err
	}()

	deadline := time.After(2 * time.Second)
	for ad.totalAttempts() == 0 {
		select {
		case <-deadline:
			t.Fatal("cycle never started sending")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, err := s.GetSignal(context.Background(), sig.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if got.SentToUsers {
		t.Fatal("interrupted cycle must leave the signal pending for full retry")
	}
}
