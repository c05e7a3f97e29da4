package infrastructure

import (
	"context"
	"sort"
	"sync"

	"stockhold/internal/reservation/domain"
)

// In-memory store implementations. They mirror the Redis and MySQL adapters
// closely enough to back the application-layer tests and small single-node
// setups.

type MemoryReservationStore struct {
	mu      sync.RWMutex
	records map[string]map[string]domain.ProductReservation // productID -> userID -> record
}

func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{records: make(map[string]map[string]domain.ProductReservation)}
}

func (s *MemoryReservationStore) Get(ctx context.Context, productID, userID string) (*domain.ProductReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID][userID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryReservationStore) Save(ctx context.Context, reservation *domain.ProductReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.records[reservation.ProductID]
	if byUser == nil {
		byUser = make(map[string]domain.ProductReservation)
		s.records[reservation.ProductID] = byUser
	}
	byUser[reservation.UserID] = *reservation
	return nil
}

func (s *MemoryReservationStore) Delete(ctx context.Context, productID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[productID], userID)
	return nil
}

func (s *MemoryReservationStore) ListByProduct(ctx context.Context, productID string) ([]*domain.ProductReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ProductReservation, 0, len(s.records[productID]))
	for _, rec := range s.records[productID] {
		copied := rec
		out = append(out, &copied)
	}
	return out, nil
}

type MemoryAvailabilityStore struct {
	mu      sync.RWMutex
	records map[string]domain.ProductAvailability
}

func NewMemoryAvailabilityStore() *MemoryAvailabilityStore {
	return &MemoryAvailabilityStore{records: make(map[string]domain.ProductAvailability)}
}

func (s *MemoryAvailabilityStore) Get(ctx context.Context, productID string) (*domain.ProductAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID]
	if !ok {
		return nil, domain.ErrAvailabilityNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryAvailabilityStore) Save(ctx context.Context, availability *domain.ProductAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[availability.ProductID] = *availability
	return nil
}

type MemoryProductStore struct {
	mu      sync.RWMutex
	records map[string]domain.Product
}

func NewMemoryProductStore() *MemoryProductStore {
	return &MemoryProductStore{records: make(map[string]domain.Product)}
}

// Put seeds a product; catalog writes are outside this core's scope.
func (s *MemoryProductStore) Put(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[product.ID] = product
}

func (s *MemoryProductStore) Find(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryProductStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *MemoryProductStore) PageIDs(ctx context.Context, offset, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}
