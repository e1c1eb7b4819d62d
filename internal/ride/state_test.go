package ride

import (
	"errors"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

func TestCanTransition(t *testing.T) {
	if !CanTransition(models.RideRequested, models.RideOffered) {
		t.Fatalf("expected requested -> offered allowed")
	}
	if !CanTransition(models.RideOffered, models.RideRequested) {
		t.Fatalf("expected offered -> requested (re-offer) allowed")
	}
	if CanTransition(models.RideResolved, models.RideRequested) {
		t.Fatalf("expected resolved to be terminal")
	}
	if CanTransition(models.RideCanceled, models.RideOffered) {
		t.Fatalf("expected canceled to be terminal")
	}
	if CanTransition(models.RideRequested, models.RideCompleted) {
		t.Fatalf("expected shortcut requested -> completed not allowed")
	}
}

func TestTransitionSetsCompletedAt(t *testing.T) {
	now := time.Now()
	r := &models.Ride{ID: "r1", Status: models.RideAccepted}
	if err := Transition(r, models.RideCompleted, now); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.CompletedAt == nil || !r.CompletedAt.Equal(now) {
		t.Fatalf("expected CompletedAt set to now")
	}
	if r.UpdatedAt != now {
		t.Fatalf("expected UpdatedAt set")
	}
}

func TestTransitionInvalid(t *testing.T) {
	r := &models.Ride{ID: "r1", Status: models.RideRequested}
	err := Transition(r, models.RideAccepted, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if r.Status != models.RideRequested {
		t.Fatalf("failed transition must not mutate state, got %s", r.Status)
	}
}
