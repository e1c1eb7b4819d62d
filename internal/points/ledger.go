package points

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-dispatch/internal/clock"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/storage"
)

// Ledger is the append-only points record. Balances are always folds over
// entries; nothing is mutated in place.
type Ledger struct {
	Store storage.LedgerStore
	Clock clock.Clock
}

func NewLedger(store storage.LedgerStore, c clock.Clock) *Ledger {
	return &Ledger{Store: store, Clock: c}
}

// Credit appends an award entry for the operator.
func (l *Ledger) Credit(operatorID, rideID string, delta int) (models.LedgerEntry, error) {
	e := models.LedgerEntry{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		RideID:     rideID,
		Delta:      delta,
		CreatedAt:  l.Clock.Now(),
	}
	if err := l.Store.AppendEntry(&e); err != nil {
		return models.LedgerEntry{}, err
	}
	return e, nil
}

// Balance folds all entries for the operator.
func (l *Ledger) Balance(operatorID string) (int, error) {
	entries, err := l.Store.EntriesFor(operatorID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		total += e.Delta
	}
	return total, nil
}

// ExpiringSoon sums awards older than age. It is a read-time projection for
// the dashboard, not a mutation of the ledger.
func (l *Ledger) ExpiringSoon(operatorID string, age time.Duration) (int, error) {
	entries, err := l.Store.EntriesFor(operatorID)
	if err != nil {
		return 0, err
	}
	cutoff := l.Clock.Now().Add(-age)
	total := 0
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			total += e.Delta
		}
	}
	return total, nil
}
