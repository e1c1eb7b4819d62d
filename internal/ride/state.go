package ride

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

// ErrInvalidTransition signals that a caller's view of ride state is stale;
// it is surfaced and logged, never silently ignored.
var ErrInvalidTransition = errors.New("invalid ride transition")

// allowed is the ride lifecycle as a directed graph. resolved and canceled
// are terminal. offered loops back to requested when an offer expires or
// every eligible operator rejects, so the ride can be re-offered.
var allowed = map[models.RideStatus][]models.RideStatus{
	models.RideRequested:     {models.RideOffered, models.RideCanceled},
	models.RideOffered:       {models.RideAccepted, models.RideRequested, models.RideCanceled},
	models.RideAccepted:      {models.RideInProgress, models.RideCompleted, models.RideCanceled},
	models.RideInProgress:    {models.RideCompleted, models.RideCanceled},
	models.RideCompleted:     {models.RidePendingReview, models.RideResolved},
	models.RidePendingReview: {models.RideResolved},
	models.RideResolved:      {},
	models.RideCanceled:      {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to models.RideStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies a lifecycle step and maintains the timestamp fields.
func Transition(r *models.Ride, to models.RideStatus, now time.Time) error {
	if r == nil {
		return fmt.Errorf("ride is nil")
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	if to == models.RideCompleted && r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
	return nil
}
