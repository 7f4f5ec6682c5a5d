package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

type memWallet struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	refs      map[string]bool
	debits    []decimal.Decimal
	credits   []decimal.Decimal
	creditErr error
	debitErr  error
	// onCredit runs before each credit is applied, outside the lock.
	onCredit func(ref string)
}

func newMemWallet() *memWallet {
	return &memWallet{
		balances: make(map[string]decimal.Decimal),
		refs:     make(map[string]bool),
	}
}

func (w *memWallet) fund(account string, amount string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[account] = w.balances[account].Add(decimal.RequireFromString(amount))
}

func (w *memWallet) balance(account string) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[account]
}

func (w *memWallet) Debit(_ context.Context, account string, amount decimal.Decimal, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debitErr != nil {
		return w.debitErr
	}
	if w.refs[ref] {
		return nil
	}
	if w.balances[account].LessThan(amount) {
		return ErrInsufficientBalance
	}
	w.balances[account] = w.balances[account].Sub(amount)
	w.refs[ref] = true
	w.debits = append(w.debits, amount)
	return nil
}

func (w *memWallet) Credit(_ context.Context, account string, amount decimal.Decimal, ref string) error {
	if w.onCredit != nil {
		w.onCredit(ref)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.creditErr != nil {
		return w.creditErr
	}
	if w.refs[ref] {
		return nil
	}
	w.balances[account] = w.balances[account].Add(amount)
	w.refs[ref] = true
	w.credits = append(w.credits, amount)
	return nil
}

func (w *memWallet) creditCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.credits)
}

func (w *memWallet) debitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.debits)
}

type memStore struct {
	mu        sync.Mutex
	rounds    map[string]*Round
	active    map[string]string
	createErr error
	updateErr error
	// terminalErr fails only the update that ends a round.
	terminalErr error
}

func newMemStore() *memStore {
	return &memStore{
		rounds: make(map[string]*Round),
		active: make(map[string]string),
	}
}

func (s *memStore) Create(_ context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.active[r.Account]; ok {
		return ErrRoundInProgress
	}
	s.rounds[r.ID] = r.Clone()
	s.active[r.Account] = r.ID
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return r.Clone(), nil
}

func (s *memStore) Active(_ context.Context, account string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[account]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return s.rounds[id].Clone(), nil
}

func (s *memStore) Update(_ context.Context, r *Round, prevVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.terminalErr != nil && r.State.Terminal() {
		return s.terminalErr
	}
	cur, ok := s.rounds[r.ID]
	if !ok {
		return ErrRoundNotFound
	}
	if cur.Version != prevVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrVersionConflict, cur.Version, prevVersion)
	}
	s.rounds[r.ID] = r.Clone()
	if r.State.Terminal() && s.active[r.Account] == r.ID {
		delete(s.active, r.Account)
	}
	return nil
}

// peek returns the stored round including its hidden board.
func (s *memStore) peek(id string) *Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rounds[id]; ok {
		return r.Clone()
	}
	return nil
}

type memRecorder struct {
	mu     sync.Mutex
	rounds []*Round
	err    error
}

func (m *memRecorder) RecordRound(_ context.Context, r *Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, r.Clone())
	return m.err
}

func safeCells(r *Round) []int {
	var out []int
	for i := 0; i < r.GridSize; i++ {
		if !r.isMine(i) {
			out = append(out, i)
		}
	}
	return out
}
