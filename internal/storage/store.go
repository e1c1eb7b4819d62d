package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/example/fleet-dispatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// RideStore defines persistence operations for rides.
type RideStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	RidesByOperator(operatorID string, limit int) ([]*models.Ride, error)
	RidesByStatus(status models.RideStatus) ([]*models.Ride, error)
	CountByStatus() (map[models.RideStatus]int, error)
}

// OperatorStore defines persistence operations for fleet operators.
type OperatorStore interface {
	SaveOperator(op *models.Operator) error
	UpdateOperator(op *models.Operator) error
	GetOperator(id string) (*models.Operator, error)
}

// ReviewStore defines persistence operations for review items.
type ReviewStore interface {
	SaveReview(item *models.ReviewItem) error
	UpdateReview(item *models.ReviewItem) error
	GetReview(id string) (*models.ReviewItem, error)
	PendingReviews() ([]*models.ReviewItem, error)
}

// LedgerStore defines the append-only points ledger. Entries are never
// updated or deleted.
type LedgerStore interface {
	AppendEntry(e *models.LedgerEntry) error
	EntriesFor(operatorID string) ([]*models.LedgerEntry, error)
}

// Store is the full persistence surface the server wires up, either the
// in-memory implementation or Postgres.
type Store interface {
	RideStore
	OperatorStore
	ReviewStore
	LedgerStore
}

type MemoryStore struct {
	mu        sync.RWMutex
	rides     map[string]models.Ride
	operators map[string]models.Operator
	reviews   map[string]models.ReviewItem
	entries   []models.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:     make(map[string]models.Ride),
		operators: make(map[string]models.Operator),
		reviews:   make(map[string]models.ReviewItem),
	}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrNotFound
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *MemoryStore) RidesByOperator(operatorID string, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.OperatorID == operatorID {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RidesByStatus(status models.RideStatus) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == status {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountByStatus() (map[models.RideStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.RideStatus]int)
	for _, r := range m.rides {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) SaveOperator(op *models.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operators[op.ID] = *op
	return nil
}

func (m *MemoryStore) UpdateOperator(op *models.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operators[op.ID]; !ok {
		return ErrNotFound
	}
	m.operators[op.ID] = *op
	return nil
}

func (m *MemoryStore) GetOperator(id string) (*models.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operators[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := op
	return &cp, nil
}

func (m *MemoryStore) SaveReview(item *models.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[item.ID] = *item
	return nil
}

func (m *MemoryStore) UpdateReview(item *models.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[item.ID]; !ok {
		return ErrNotFound
	}
	m.reviews[item.ID] = *item
	return nil
}

func (m *MemoryStore) GetReview(id string) (*models.ReviewItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := item
	return &cp, nil
}

func (m *MemoryStore) PendingReviews() ([]*models.ReviewItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ReviewItem
	for _, item := range m.reviews {
		if item.Status == models.ReviewPending {
			cp := item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AppendEntry(e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MemoryStore) EntriesFor(operatorID string) ([]*models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.LedgerEntry
	for i := range m.entries {
		if m.entries[i].OperatorID == operatorID {
			cp := m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
