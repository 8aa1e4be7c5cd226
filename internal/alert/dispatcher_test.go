package alert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/p2pdesk/sellbot/internal/position"
)

func setupDispatcherStore(t *testing.T) *position.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := position.New("redis://"+mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("position.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type sentMessage struct {
	chatID int64
	text   string
}

func TestDispatchDeliversAndCounts(t *testing.T) {
	store := setupDispatcherStore(t)
	ctx := context.Background()

	if err := store.BindChat(ctx, "alice", 1001); err != nil {
		t.Fatalf("BindChat: %v", err)
	}

	var sent []sentMessage
	d := NewDispatcher(store, func(chatID int64, text string) error {
		sent = append(sent, sentMessage{chatID, text})
		return nil
	}, nil, slog.Default())

	if err := d.Dispatch(ctx, true, "alice", "BTC", "+40.00 MXN +20.00%"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].chatID != 1001 {
		t.Errorf("chatID = %d, want 1001", sent[0].chatID)
	}
	for _, want := range []string{"alice", "Good news!!", "BTC", "gain", "+40.00 MXN +20.00%"} {
		if !strings.Contains(sent[0].text, want) {
			t.Errorf("message %q missing %q", sent[0].text, want)
		}
	}

	pos, neg, err := store.SignalCounters(ctx)
	if err != nil {
		t.Fatalf("SignalCounters: %v", err)
	}
	if pos != 1 || neg != 0 {
		t.Errorf("counters = (%d, %d), want (1, 0)", pos, neg)
	}
}

func TestDispatchNegativeSignal(t *testing.T) {
	store := setupDispatcherStore(t)
	ctx := context.Background()
	_ = store.BindChat(ctx, "bob", 2002)

	var sent []sentMessage
	d := NewDispatcher(store, func(chatID int64, text string) error {
		sent = append(sent, sentMessage{chatID, text})
		return nil
	}, nil, slog.Default())

	if err := d.Dispatch(ctx, false, "bob", "ETH", "-10.00 MXN -5.00%"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(sent[0].text, "Bad news!") || !strings.Contains(sent[0].text, "loss") {
		t.Errorf("negative alert text = %q", sent[0].text)
	}

	pos, neg, _ := store.SignalCounters(ctx)
	if pos != 0 || neg != 1 {
		t.Errorf("counters = (%d, %d), want (0, 1)", pos, neg)
	}
}

func TestDispatchUnknownRecipient(t *testing.T) {
	store := setupDispatcherStore(t)
	ctx := context.Background()

	sendCalls := 0
	d := NewDispatcher(store, func(chatID int64, text string) error {
		sendCalls++
		return nil
	}, nil, slog.Default())

	err := d.Dispatch(ctx, true, "ghost", "BTC", "+1.00 MXN +1.00%")
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("error = %v, want ErrUnknownRecipient", err)
	}
	if sendCalls != 0 {
		t.Errorf("send called %d times for unbound user, want 0", sendCalls)
	}

	pos, neg, _ := store.SignalCounters(ctx)
	if pos != 0 || neg != 0 {
		t.Errorf("counters = (%d, %d), want untouched (0, 0)", pos, neg)
	}
}

func TestDispatchDeliveryFailure(t *testing.T) {
	store := setupDispatcherStore(t)
	ctx := context.Background()
	_ = store.BindChat(ctx, "alice", 1001)

	d := NewDispatcher(store, func(chatID int64, text string) error {
		return errors.New("telegram 502")
	}, nil, slog.Default())

	err := d.Dispatch(ctx, true, "alice", "BTC", "+40.00 MXN +20.00%")
	if err == nil {
		t.Fatal("expected delivery error, got nil")
	}
	if errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("delivery failure misreported as unknown recipient: %v", err)
	}
}
