package persist

import (
	"errors"
	"sync"
)

// ErrAlreadyBound is returned when a local or durable id is already paired
// with a different counterpart.
var ErrAlreadyBound = errors.New("correlation already bound")

// CorrelationStore is the bijection between local operation ids and durable
// activity log record ids. It lives in process memory only.
type CorrelationStore struct {
	mu        sync.RWMutex
	toDurable map[string]string
	toLocal   map[string]string
}

// NewCorrelationStore creates an empty store.
func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{
		toDurable: make(map[string]string),
		toLocal:   make(map[string]string),
	}
}

// Bind pairs local with durable. Binding the same pair twice is a no-op.
func (s *CorrelationStore) Bind(local, durable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.toDurable[local]; ok {
		if existing == durable {
			return nil
		}
		return ErrAlreadyBound
	}
	if _, ok := s.toLocal[durable]; ok {
		return ErrAlreadyBound
	}
	s.toDurable[local] = durable
	s.toLocal[durable] = local
	return nil
}

// Resolve returns the durable id bound to local.
func (s *CorrelationStore) Resolve(local string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	durable, ok := s.toDurable[local]
	return durable, ok
}

// Local returns the local id bound to durable.
func (s *CorrelationStore) Local(durable string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	local, ok := s.toLocal[durable]
	return local, ok
}

// Len returns the number of bound pairs.
func (s *CorrelationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.toDurable)
}
