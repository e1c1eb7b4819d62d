package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type OperatorStatus string

const (
	OperatorOffline   OperatorStatus = "offline"
	OperatorAvailable OperatorStatus = "available"
	OperatorBusy      OperatorStatus = "busy"
)

// Operator is a fleet member who can be offered rides. Points balance is not
// stored here; it is always folded from the ledger entries.
type Operator struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Loc        Coord          `json:"loc"`
	Rating     float64        `json:"rating"` // 0..5
	Status     OperatorStatus `json:"status"`
	TotalRides int            `json:"total_rides"`
	Updated    time.Time      `json:"updated"`
}

type RideStatus string

const (
	RideRequested     RideStatus = "requested"
	RideOffered       RideStatus = "offered"
	RideAccepted      RideStatus = "accepted"
	RideInProgress    RideStatus = "in_progress"
	RideCompleted     RideStatus = "completed"
	RidePendingReview RideStatus = "pending_review"
	RideResolved      RideStatus = "resolved"
	RideCanceled      RideStatus = "canceled"
)

type Ride struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"rider_id"`
	Pickup      Coord      `json:"pickup"`
	Destination Coord      `json:"destination"`
	Status      RideStatus `json:"status"`
	OperatorID  string     `json:"operator_id,omitempty"` // empty until accepted
	Dropoff     *Coord     `json:"dropoff,omitempty"`     // nil until completed
	Points      *int       `json:"points,omitempty"`      // nil until resolved
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type RideRequest struct {
	RiderID     string `json:"rider_id"`
	Pickup      Coord  `json:"pickup"`
	Destination Coord  `json:"destination"`
}

type OfferState string

const (
	OfferOpen     OfferState = "open"
	OfferConsumed OfferState = "consumed"
	OfferExpired  OfferState = "expired"
)

// Offer is a time-boxed proposal of a ride to a set of eligible operators.
// At most one open offer exists per ride.
type Offer struct {
	RideID    string     `json:"ride_id"`
	Eligible  []string   `json:"eligible"` // ordered nearest-first
	ExpiresAt time.Time  `json:"expires_at"`
	State     OfferState `json:"state"`
	WinnerID  string     `json:"winner_id,omitempty"`
}

// OfferAlert is the per-operator view of an open offer. SecondsRemaining is
// recomputed from the clock authority on every query, never cached.
type OfferAlert struct {
	RideID           string  `json:"ride_id"`
	Pickup           Coord   `json:"pickup"`
	Destination      Coord   `json:"destination"`
	PickupDistanceM  float64 `json:"pickup_distance_m"`
	SecondsRemaining float64 `json:"seconds_remaining"`
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewAdjusted ReviewStatus = "adjusted"
)

// ReviewItem queues a ride whose dropoff error exceeded the scoring threshold
// for manual resolution.
type ReviewItem struct {
	ID              string       `json:"id"`
	RideID          string       `json:"ride_id"`
	OperatorID      string       `json:"operator_id"`
	DistanceErrorM  float64      `json:"distance_error_m"`
	TentativePoints int          `json:"tentative_points"`
	Status          ReviewStatus `json:"status"`
	ResolvedBy      string       `json:"resolved_by,omitempty"`
	FinalPoints     *int         `json:"final_points,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
}

// LedgerEntry is an append-only point award record. Balances are derived by
// folding entries, never by mutating a stored total.
type LedgerEntry struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	RideID     string    `json:"ride_id"`
	Delta      int       `json:"delta"`
	CreatedAt  time.Time `json:"created_at"`
}
