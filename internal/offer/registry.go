package offer

import (
	"errors"
	"sync"
	"time"

	"github.com/example/fleet-dispatch/internal/clock"
	"github.com/example/fleet-dispatch/internal/models"
)

var (
	// ErrConflict means an open offer already exists for the ride.
	ErrConflict = errors.New("open offer already exists for ride")
	// ErrExpired means the offer deadline has passed.
	ErrExpired = errors.New("offer expired")
	// ErrNotEligible means the operator was never offered this ride.
	ErrNotEligible = errors.New("operator not eligible for offer")
	// ErrAlreadyConsumed means another operator won the accept race.
	ErrAlreadyConsumed = errors.New("offer already consumed")
	// ErrNotFound means no offer exists for the ride.
	ErrNotFound = errors.New("no offer for ride")
)

// Registry holds at most one outstanding offer per ride and arbitrates
// concurrent accept attempts. All deadline comparisons read the clock at
// decision time, inside the lock; the background sweep is only for timely
// downstream signaling, TryConsume is the correctness guarantee.
type Registry struct {
	mu     sync.Mutex
	clock  clock.Clock
	offers map[string]*models.Offer // ride ID -> offer
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{clock: c, offers: make(map[string]*models.Offer)}
}

// Open creates an open offer for the ride with expiry now+ttl. Fails with
// ErrConflict if an open offer for the ride already exists. A consumed or
// expired leftover is replaced.
func (r *Registry) Open(rideID string, eligible []string, ttl time.Duration) (models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.offers[rideID]; ok && cur.State == models.OfferOpen {
		return models.Offer{}, ErrConflict
	}
	o := &models.Offer{
		RideID:    rideID,
		Eligible:  append([]string(nil), eligible...),
		ExpiresAt: r.clock.Now().Add(ttl),
		State:     models.OfferOpen,
	}
	r.offers[rideID] = o
	return *o, nil
}

// TryConsume is the atomic check-and-transition for accepting an offer.
// It succeeds only if the offer is open, now is strictly before the
// deadline, and the operator is in the eligible set. Exactly one of N
// concurrent callers can succeed; the rest observe ErrAlreadyConsumed.
// Accept at or after the deadline always fails with ErrExpired, even if
// the sweep has not run yet.
func (r *Registry) TryConsume(rideID, operatorID string) (models.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[rideID]
	if !ok {
		return models.Offer{}, ErrNotFound
	}
	switch o.State {
	case models.OfferConsumed:
		return models.Offer{}, ErrAlreadyConsumed
	case models.OfferExpired:
		return models.Offer{}, ErrExpired
	}
	if !r.clock.Now().Before(o.ExpiresAt) {
		o.State = models.OfferExpired
		return models.Offer{}, ErrExpired
	}
	if !contains(o.Eligible, operatorID) {
		return models.Offer{}, ErrNotEligible
	}
	o.State = models.OfferConsumed
	o.WinnerID = operatorID
	return *o, nil
}

// RemoveEligible drops an operator from the ride's open offer without
// touching the expiry. It is an idempotent no-op when the offer or the
// operator is absent. remaining reports how many eligible operators are
// left; ok is false when there was nothing to remove.
func (r *Registry) RemoveEligible(rideID, operatorID string) (remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, found := r.offers[rideID]
	if !found || o.State != models.OfferOpen {
		return 0, false
	}
	for i, id := range o.Eligible {
		if id == operatorID {
			o.Eligible = append(o.Eligible[:i], o.Eligible[i+1:]...)
			return len(o.Eligible), true
		}
	}
	return len(o.Eligible), false
}

// Expire force-expires the ride's open offer, for reject-out signaling.
func (r *Registry) Expire(rideID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.offers[rideID]; ok && o.State == models.OfferOpen {
		o.State = models.OfferExpired
	}
}

// ExpireDue transitions every open offer whose deadline has passed and
// returns the affected ride IDs so the caller can re-offer or cancel.
func (r *Registry) ExpireDue() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var due []string
	for rideID, o := range r.offers {
		if o.State == models.OfferOpen && !now.Before(o.ExpiresAt) {
			o.State = models.OfferExpired
			due = append(due, rideID)
		}
	}
	return due
}

// Get returns a copy of the ride's offer, if any.
func (r *Registry) Get(rideID string) (models.Offer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[rideID]
	if !ok {
		return models.Offer{}, false
	}
	cp := *o
	cp.Eligible = append([]string(nil), o.Eligible...)
	return cp, true
}

// OpenFor lists copies of the open, unexpired offers the operator is
// eligible for.
func (r *Registry) OpenFor(operatorID string) []models.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var out []models.Offer
	for _, o := range r.offers {
		if o.State != models.OfferOpen || !now.Before(o.ExpiresAt) {
			continue
		}
		if contains(o.Eligible, operatorID) {
			cp := *o
			cp.Eligible = append([]string(nil), o.Eligible...)
			out = append(out, cp)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
