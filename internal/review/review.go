package review

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/fleet-dispatch/internal/clock"
	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/points"
	"github.com/example/fleet-dispatch/internal/ride"
	"github.com/example/fleet-dispatch/internal/storage"
)

var (
	// ErrInvalidPoints means an adjust override fell outside [0, max].
	ErrInvalidPoints = errors.New("override points out of range")
	// ErrAlreadyResolved means the review item was resolved before.
	ErrAlreadyResolved = errors.New("review already resolved")
	// ErrNotScorable means the ride is not in a completed state with a dropoff.
	ErrNotScorable = errors.New("ride not scorable")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionAdjust  Action = "adjust"
)

// ScoreResult reports what scoring decided for a completed ride.
type ScoreResult struct {
	DistanceErrorM float64
	Points         int
	NeedsReview    bool
	ReviewID       string
}

// Service computes point awards from dropoff accuracy and applies admin
// resolutions. Rides within the threshold resolve automatically; the rest
// queue a review item.
//
// Approve policy: approving an out-of-threshold ride awards zero points.
// Nonzero awards go through adjust with an explicit override. This mirrors
// the upstream admin behavior where approve only closed the ride; the
// tentative score shown to admins beyond the threshold is zero anyway.
type Service struct {
	Rides   storage.RideStore
	Reviews storage.ReviewStore
	Ledger  *points.Ledger
	Clock   clock.Clock
	Logger  *slog.Logger

	ThresholdM float64
	MaxPoints  int

	// serializes resolutions so concurrent admins cannot double-credit
	mu sync.Mutex
}

func NewService(rides storage.RideStore, reviews storage.ReviewStore, ledger *points.Ledger, c clock.Clock, logger *slog.Logger, thresholdM float64, maxPoints int) *Service {
	return &Service{Rides: rides, Reviews: reviews, Ledger: ledger, Clock: c, Logger: logger, ThresholdM: thresholdM, MaxPoints: maxPoints}
}

// PointsFor maps a dropoff error linearly from [0, threshold] onto
// [maxPoints, 0], truncating and clamping at zero. With the default
// threshold 100m and max 10 this is the upstream max(0, 10 - meters/10).
func PointsFor(distM, thresholdM float64, maxPoints int) int {
	raw := float64(maxPoints) - distM*float64(maxPoints)/thresholdM
	if raw < 0 {
		return 0
	}
	return int(raw)
}

// Score reconciles a completed ride. distance_error <= threshold resolves
// the ride immediately and credits the ledger; beyond the threshold a
// pending review item is created and the ride waits for an admin.
func (s *Service) Score(rideID string) (ScoreResult, error) {
	r, err := s.Rides.GetRide(rideID)
	if err != nil {
		return ScoreResult{}, err
	}
	if r.Status != models.RideCompleted || r.Dropoff == nil {
		return ScoreResult{}, fmt.Errorf("%w: ride %s status %s", ErrNotScorable, r.ID, r.Status)
	}

	dist := geo.Haversine(r.Dropoff.Lat, r.Dropoff.Lon, r.Destination.Lat, r.Destination.Lon)
	pts := PointsFor(dist, s.ThresholdM, s.MaxPoints)
	now := s.Clock.Now()

	if dist <= s.ThresholdM {
		if _, err := s.Ledger.Credit(r.OperatorID, r.ID, pts); err != nil {
			return ScoreResult{}, err
		}
		if err := ride.Transition(r, models.RideResolved, now); err != nil {
			return ScoreResult{}, err
		}
		p := pts
		r.Points = &p
		if err := s.Rides.UpdateRide(r); err != nil {
			return ScoreResult{}, err
		}
		observability.PointsAwarded.Add(float64(pts))
		s.Logger.Info("ride auto-resolved", "ride_id", r.ID, "distance_error_m", dist, "points", pts)
		return ScoreResult{DistanceErrorM: dist, Points: pts}, nil
	}

	item := &models.ReviewItem{
		ID:              "review_" + uuid.NewString()[:8],
		RideID:          r.ID,
		OperatorID:      r.OperatorID,
		DistanceErrorM:  dist,
		TentativePoints: pts,
		Status:          models.ReviewPending,
		CreatedAt:       now,
	}
	if err := s.Reviews.SaveReview(item); err != nil {
		return ScoreResult{}, err
	}
	if err := ride.Transition(r, models.RidePendingReview, now); err != nil {
		return ScoreResult{}, err
	}
	if err := s.Rides.UpdateRide(r); err != nil {
		return ScoreResult{}, err
	}
	observability.ReviewsQueued.Inc()
	s.Logger.Info("ride queued for review", "ride_id", r.ID, "review_id", item.ID, "distance_error_m", dist)
	return ScoreResult{DistanceErrorM: dist, Points: pts, NeedsReview: true, ReviewID: item.ID}, nil
}

// Resolve applies an admin decision to a pending review item. Exactly one
// ledger entry is appended per resolution; a repeated resolve fails with
// ErrAlreadyResolved and leaves the ledger untouched.
func (s *Service) Resolve(reviewID string, action Action, overridePoints *int, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.Reviews.GetReview(reviewID)
	if err != nil {
		return err
	}
	if item.Status != models.ReviewPending {
		return ErrAlreadyResolved
	}

	var final int
	var status models.ReviewStatus
	switch action {
	case ActionApprove:
		final = 0
		status = models.ReviewApproved
	case ActionAdjust:
		if overridePoints == nil || *overridePoints < 0 || *overridePoints > s.MaxPoints {
			return ErrInvalidPoints
		}
		final = *overridePoints
		status = models.ReviewAdjusted
	default:
		return fmt.Errorf("unknown review action %q", action)
	}

	now := s.Clock.Now()
	item.Status = status
	item.ResolvedBy = adminID
	item.FinalPoints = &final
	item.ResolvedAt = &now
	// persist the resolution before crediting: if the write fails the item
	// stays pending and a retry is safe, whereas a retry after a credit
	// would award twice
	if err := s.Reviews.UpdateReview(item); err != nil {
		return err
	}
	if _, err := s.Ledger.Credit(item.OperatorID, item.RideID, final); err != nil {
		return err
	}

	r, err := s.Rides.GetRide(item.RideID)
	if err != nil {
		return err
	}
	if err := ride.Transition(r, models.RideResolved, now); err != nil {
		return err
	}
	r.Points = &final
	if err := s.Rides.UpdateRide(r); err != nil {
		return err
	}

	observability.ReviewsResolved.WithLabelValues(string(action)).Inc()
	observability.PointsAwarded.Add(float64(final))
	s.Logger.Info("review resolved", "review_id", reviewID, "action", action, "final_points", final, "admin_id", adminID)
	return nil
}

// Pending lists review items awaiting resolution, oldest first.
func (s *Service) Pending() ([]*models.ReviewItem, error) {
	return s.Reviews.PendingReviews()
}
