package memory

import (
	"context"
	"sync"
	"time"

	"auction-marketplace/pkg/clock"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// LeaseStore is a single-process domain.LeaseStore for tests and the memory driver.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
	clock  clock.Clock
}

func NewLeaseStore(clk clock.Clock) *LeaseStore {
	return &LeaseStore{
		leases: make(map[string]lease),
		clock:  clk,
	}
}

func (s *LeaseStore) TryAcquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if held, ok := s.leases[name]; ok && now.Before(held.expiresAt) {
		return false, nil
	}
	s.leases[name] = lease{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *LeaseStore) Release(ctx context.Context, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.leases[name]; ok && held.token == token {
		delete(s.leases, name)
	}
	return nil
}

// Held reports whether name is currently leased.
func (s *LeaseStore) Held(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.leases[name]
	return ok && s.clock.Now().Before(held.expiresAt)
}
