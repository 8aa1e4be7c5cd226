package telegram

import (
	"sync"
)

// flowState tracks where a chat is inside the balance-update conversation.
type flowState int

const (
	awaitingAsset flowState = iota
	awaitingBalance
	awaitingBuyPrice
	confirming
)

// updateFlow is the in-progress state of one chat's /update conversation.
// It only becomes a store write once the user confirms the overview.
type updateFlow struct {
	state    flowState
	username string
	asset    string

	oldBalance     float64
	oldBuyPrice    float64
	hasOldBuyPrice bool

	newBalance float64
	buyPrice   float64
}

// flowStore holds active conversations keyed by chat ID.
type flowStore struct {
	mu sync.Mutex
	m  map[int64]*updateFlow
}

func newFlowStore() *flowStore {
	return &flowStore{m: make(map[int64]*updateFlow)}
}

func (f *flowStore) begin(chatID int64, username string) *updateFlow {
	f.mu.Lock()
	defer f.mu.Unlock()
	flow := &updateFlow{state: awaitingAsset, username: username}
	f.m[chatID] = flow
	return flow
}

func (f *flowStore) get(chatID int64) (*updateFlow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flow, ok := f.m[chatID]
	return flow, ok
}

// clear ends a conversation; reports whether one was active.
func (f *flowStore) clear(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.m[chatID]
	delete(f.m, chatID)
	return ok
}
