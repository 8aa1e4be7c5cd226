package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := New("redis://"+mr.Addr(), "", 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestPositionMissingRecord(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	p, err := s.Position(ctx, "alice", "BTC")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if p.Balance != 0 {
		t.Errorf("Balance = %v, want 0", p.Balance)
	}
	if p.HasBuyPrice {
		t.Error("HasBuyPrice = true for missing record")
	}
	if p.HasThreshold {
		t.Error("HasThreshold = true for missing record")
	}
}

func TestUpdateAndReadPosition(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.UpdatePosition(ctx, "alice", "BTC", 0.5, 350000); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}

	p, err := s.Position(ctx, "alice", "BTC")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if p.Balance != 0.5 {
		t.Errorf("Balance = %v, want 0.5", p.Balance)
	}
	if !p.HasBuyPrice || p.BuyPrice != 350000 {
		t.Errorf("BuyPrice = (%v, %v), want (350000, true)", p.BuyPrice, p.HasBuyPrice)
	}
}

func TestSetThresholdOverwrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.SetThreshold(ctx, "alice", "ETH", "+10.00 MXN +5.00%"); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
	if err := s.SetThreshold(ctx, "alice", "ETH", "-3.00 MXN -1.50%"); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}

	p, err := s.Position(ctx, "alice", "ETH")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !p.HasThreshold || p.Threshold != "-3.00 MXN -1.50%" {
		t.Errorf("Threshold = (%q, %v), want last write", p.Threshold, p.HasThreshold)
	}
}

func TestListHoldersEmpty(t *testing.T) {
	s, _ := setupTestStore(t)

	holders, err := s.ListHolders(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("ListHolders: %v", err)
	}
	if len(holders) != 0 {
		t.Errorf("ListHolders = %v, want empty", holders)
	}
}

func TestListHoldersDrainsAllPages(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	// More records than one SCAN page (scanCount = 10) can carry.
	want := make([]string, 0, 37)
	for i := 0; i < 37; i++ {
		user := fmt.Sprintf("user%02d", i)
		mr.HSet("crypto:position:"+user+":BTC", "balance", "1.5", "buyPrice", "100")
		want = append(want, user)
	}

	holders, err := s.ListHolders(ctx, "BTC")
	if err != nil {
		t.Fatalf("ListHolders: %v", err)
	}
	if len(holders) != len(want) {
		t.Fatalf("got %d holders, want %d", len(holders), len(want))
	}

	got := make([]string, len(holders))
	for i, h := range holders {
		got[i] = h.Username
		if h.Balance != 1.5 || h.BuyPrice != 100 {
			t.Errorf("holder %s = %+v, want balance 1.5 buyPrice 100", h.Username, h)
		}
	}
	sort.Strings(got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("holders[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestListHoldersExcludesIncompleteRecords(t *testing.T) {
	s, mr := setupTestStore(t)

	mr.HSet("crypto:position:complete:BTC", "balance", "2", "buyPrice", "50")
	mr.HSet("crypto:position:nobuyprice:BTC", "balance", "2")
	mr.HSet("crypto:position:nobalance:BTC", "buyPrice", "50")
	mr.HSet("crypto:position:garbage:BTC", "balance", "lots", "buyPrice", "50")
	mr.HSet("crypto:position:otherasset:ETH", "balance", "2", "buyPrice", "50")

	holders, err := s.ListHolders(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("ListHolders: %v", err)
	}
	if len(holders) != 1 || holders[0].Username != "complete" {
		t.Errorf("ListHolders = %+v, want only 'complete'", holders)
	}
}

func TestChatBinding(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.ChatID(ctx, "nobody"); !errors.Is(err, ErrNotBound) {
		t.Errorf("ChatID(nobody) error = %v, want ErrNotBound", err)
	}

	if err := s.BindChat(ctx, "alice", 424242); err != nil {
		t.Fatalf("BindChat: %v", err)
	}
	id, err := s.ChatID(ctx, "alice")
	if err != nil {
		t.Fatalf("ChatID: %v", err)
	}
	if id != 424242 {
		t.Errorf("ChatID = %d, want 424242", id)
	}

	// Rebinding overwrites.
	if err := s.BindChat(ctx, "alice", 7); err != nil {
		t.Fatalf("BindChat: %v", err)
	}
	id, _ = s.ChatID(ctx, "alice")
	if id != 7 {
		t.Errorf("ChatID after rebind = %d, want 7", id)
	}
}

func TestMarketPrice(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.MarketPrice(ctx, "BTC")
	if err != nil {
		t.Fatalf("MarketPrice: %v", err)
	}
	if ok {
		t.Error("MarketPrice ok = true before any refresh")
	}

	if err := s.SetMarketPrice(ctx, "BTC", 812345.67); err != nil {
		t.Fatalf("SetMarketPrice: %v", err)
	}
	v, ok, err := s.MarketPrice(ctx, "BTC")
	if err != nil {
		t.Fatalf("MarketPrice: %v", err)
	}
	if !ok || v != 812345.67 {
		t.Errorf("MarketPrice = (%v, %v), want (812345.67, true)", v, ok)
	}
}

func TestSignalCounters(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	pos, neg, err := s.SignalCounters(ctx)
	if err != nil {
		t.Fatalf("SignalCounters: %v", err)
	}
	if pos != 0 || neg != 0 {
		t.Errorf("fresh counters = (%d, %d), want (0, 0)", pos, neg)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrSignalCounter(ctx, true); err != nil {
			t.Fatalf("IncrSignalCounter: %v", err)
		}
	}
	if err := s.IncrSignalCounter(ctx, false); err != nil {
		t.Fatalf("IncrSignalCounter: %v", err)
	}

	pos, neg, err = s.SignalCounters(ctx)
	if err != nil {
		t.Fatalf("SignalCounters: %v", err)
	}
	if pos != 3 || neg != 1 {
		t.Errorf("counters = (%d, %d), want (3, 1)", pos, neg)
	}
}
