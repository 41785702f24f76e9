// Package memory holds the in-memory call table. Calls are ephemeral by
// design; nothing survives a restart.
package memory

import (
	"sync"

	"github.com/ringlink/ringlink/internal/core/domain"
)

// CallTable implements port.CallTable.
type CallTable struct {
	mu     sync.Mutex
	byPair map[string]*domain.Call
	byUser map[domain.UserID]*domain.Call
}

func NewCallTable() *CallTable {
	return &CallTable{
		byPair: make(map[string]*domain.Call),
		byUser: make(map[domain.UserID]*domain.Call),
	}
}

func (t *CallTable) Put(call *domain.Call) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	caller := call.Participants.Caller.UserID
	receiver := call.Participants.Receiver.UserID

	if _, ok := t.byUser[caller]; ok {
		return domain.ErrCallAlreadyActive
	}
	if _, ok := t.byUser[receiver]; ok {
		return domain.ErrCallAlreadyActive
	}

	t.byPair[call.Participants.PairKey()] = call
	t.byUser[caller] = call
	t.byUser[receiver] = call
	return nil
}

func (t *CallTable) Get(pairKey string) (*domain.Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.byPair[pairKey]
	return call, ok
}

func (t *CallTable) ByParticipant(user domain.UserID) (*domain.Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.byUser[user]
	return call, ok
}

func (t *CallTable) Remove(pairKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.byPair[pairKey]
	if !ok {
		return
	}
	delete(t.byPair, pairKey)
	delete(t.byUser, call.Participants.Caller.UserID)
	delete(t.byUser, call.Participants.Receiver.UserID)
}
