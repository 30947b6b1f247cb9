package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"signalbot/internal/store"
	"signalbot/internal/transport"
	"signalbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.replies = append(f.replies, text)
	f.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) lastReply() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *fakeAdapter) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ad := &fakeAdapter{}
	return New(st, ad, logx.Nop()), st, ad
}

func message(fromID int64, text string) *transport.Message {
	return &transport.Message{ID: 1, ChatID: fromID, FromID: fromID, FromUsername: "tester", FromName: "Tester", Text: text}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{"/start", "start", nil, true},
		{"/subscribe crypto", "subscribe", []string{"crypto"}, true},
		{"/Status@signal_bot", "status", nil, true},
		{"  /help  ", "help", nil, true},
		{"hello there", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if ok != tt.ok || name != tt.name || len(args) != len(tt.args) {
			t.Errorf("parseCommand(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.text, name, args, ok, tt.name, tt.args, tt.ok)
		}
	}
}

func TestStartRegistersSubscriber(t *testing.T) {
	t.Parallel()
	r, st, ad := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, message(100, "/start"))

	sub, err := st.GetByTelegramID(ctx, 100)
	if err != nil {
		t.Fatalf("GetByTelegramID: %v", err)
	}
	if sub == nil {
		t.Fatal("/start did not register the user")
	}
	if sub.Subscribed {
		t.Fatal("/start must not subscribe the user")
	}
	if ad.lastReply() != msgStart {
		t.Fatalf("unexpected reply: %q", ad.lastReply())
	}
}

func TestSubscribeFlow(t *testing.T) {
	t.Parallel()
	r, st, ad := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, message(200, "/subscribe crypto"))
	if ad.lastReply() != msgSubscribed {
		t.Fatalf("subscribe reply = %q", ad.lastReply())
	}
	sub, _ := st.GetByTelegramID(ctx, 200)
	if sub == nil || !sub.Subscribed || string(sub.SubscriptionType) != "crypto" {
		t.Fatalf("unexpected state: %+v", sub)
	}

	r.handleMessage(ctx, message(200, "/subscribe crypto"))
	if ad.lastReply() != msgAlreadySubscribed {
		t.Fatalf("repeat subscribe reply = %q", ad.lastReply())
	}

	r.handleMessage(ctx, message(200, "/subscribe bonds"))
	if !strings.Contains(ad.lastReply(), "Unknown category") {
		t.Fatalf("invalid category reply = %q", ad.lastReply())
	}

	r.handleMessage(ctx, message(200, "/unsubscribe"))
	if ad.lastReply() != msgUnsubscribed {
		t.Fatalf("unsubscribe reply = %q", ad.lastReply())
	}
	sub, _ = st.GetByTelegramID(ctx, 200)
	if sub.Subscribed {
		t.Fatal("still subscribed after /unsubscribe")
	}
}

func TestUnsubscribeWithoutSubscription(t *testing.T) {
	t.Parallel()
	r, _, ad := newTestRouter(t)

	r.handleMessage(context.Background(), message(300, "/unsubscribe"))
	if ad.lastReply() != msgNotSubscribed {
		t.Fatalf("reply = %q", ad.lastReply())
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	r, _, ad := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, message(400, "/status"))
	if ad.lastReply() != msgNotSubscribed {
		t.Fatalf("unsubscribed status reply = %q", ad.lastReply())
	}

	r.handleMessage(ctx, message(400, "/subscribe"))
	r.handleMessage(ctx, message(400, "/status"))
	reply := ad.lastReply()
	if !strings.Contains(reply, "Active: yes") || !strings.Contains(reply, "all") {
		t.Fatalf("subscribed status reply = %q", reply)
	}
	if !strings.Contains(reply, "Active subscribers: 1") {
		t.Fatalf("status missing subscriber count: %q", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	r, _, ad := newTestRouter(t)

	r.handleMessage(context.Background(), message(500, "/export"))
	if ad.lastReply() != msgUnknownCommand {
		t.Fatalf("reply = %q", ad.lastReply())
	}
}

func TestStoreFailureGetsGenericReply(t *testing.T) {
	t.Parallel()
	r, st, ad := newTestRouter(t)

	// Simulate store unavailability: the caller must get a generic
	// acknowledgment, never raw error detail.
	_ = st.Close()

	r.handleMessage(context.Background(), message(600, "/status"))
	if ad.lastReply() != msgError {
		t.Fatalf("reply = %q, want generic error message", ad.lastReply())
	}
}

func TestPlainTextIgnored(t *testing.T) {
	t.Parallel()
	r, _, ad := newTestRouter(t)

	r.handleMessage(context.Background(), message(700, "what is the price of BTC?"))
	if got := ad.lastReply(); got != "" {
		t.Fatalf("plain text should be ignored, got reply %q", got)
	}
}
