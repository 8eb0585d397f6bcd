package receipt

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu       sync.Mutex
	receipts map[common.Hash]Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{receipts: make(map[common.Hash]Receipt)}
}

func (s *MemoryStore) Put(_ context.Context, r Receipt) (Receipt, bool, error) {
	if err := r.Validate(); err != nil {
		return Receipt{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.receipts[r.BatchID]
	if !ok {
		s.receipts[r.BatchID] = r
		return r, true, nil
	}
	if !existing.Same(r) {
		return Receipt{}, false, ErrReceiptMismatch
	}
	return existing, false, nil
}

func (s *MemoryStore) Get(_ context.Context, batchID common.Hash) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[batchID]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return r, nil
}
