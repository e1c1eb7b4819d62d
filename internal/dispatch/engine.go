package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fleet-dispatch/internal/clock"
	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/observability"
	"github.com/example/fleet-dispatch/internal/offer"
	"github.com/example/fleet-dispatch/internal/ride"
	"github.com/example/fleet-dispatch/internal/storage"
)

// ErrNoEligibleOperators means no available operator was found within the
// radius. The ride stays in requested for a later retry; this is an expected
// condition, not a bug.
var ErrNoEligibleOperators = errors.New("no eligible operators")

// Notifier pushes an offer alert to one operator. Best-effort: a failed push
// never fails the dispatch, operators also poll their alerts.
type Notifier interface {
	Offer(operatorID string, alert models.OfferAlert) error
}

// Engine creates offers from ride requests, broadcasts them, and arbitrates
// accept/reject/timeout transitions. All ride-scoped transitions are
// serialized by a per-ride lock; cross-ride operations take no shared lock.
type Engine struct {
	Registry  *offer.Registry
	Rides     storage.RideStore
	Operators storage.OperatorStore
	Geo       geo.Geo
	Notify    Notifier
	Clock     clock.Clock
	Logger    *slog.Logger

	TTL     time.Duration
	RadiusM float64
	FanOut  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(reg *offer.Registry, rides storage.RideStore, ops storage.OperatorStore, g geo.Geo, notify Notifier, c clock.Clock, logger *slog.Logger, ttl time.Duration, radiusM float64, fanOut int) *Engine {
	if fanOut <= 0 {
		fanOut = 5
	}
	return &Engine{
		Registry:  reg,
		Rides:     rides,
		Operators: ops,
		Geo:       g,
		Notify:    notify,
		Clock:     c,
		Logger:    logger,
		TTL:       ttl,
		RadiusM:   radiusM,
		FanOut:    fanOut,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) rideLock(rideID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[rideID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[rideID] = l
	}
	return l
}

// dropLock forgets the ride's lock once it reaches a terminal state. Any
// transition attempted afterwards fails on state, not on ordering.
func (e *Engine) dropLock(rideID string) {
	e.mu.Lock()
	delete(e.locks, rideID)
	e.mu.Unlock()
}

// RequestRide creates the ride and opens its first offer. When no operator
// is eligible the ride is still created, left in requested, and
// ErrNoEligibleOperators is returned alongside it.
func (e *Engine) RequestRide(req models.RideRequest) (*models.Ride, error) {
	now := e.Clock.Now()
	r := &models.Ride{
		ID:          "ride_" + uuid.NewString()[:8],
		RiderID:     req.RiderID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		Status:      models.RideRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Rides.SaveRide(r); err != nil {
		return nil, err
	}
	// the offer becomes visible to accepts as soon as the registry opens it,
	// so the requested->offered step must hold the ride lock like Accept does
	l := e.rideLock(r.ID)
	l.Lock()
	defer l.Unlock()
	if err := e.offerRide(r); err != nil {
		return r, err
	}
	return r, nil
}

// ReOffer retries dispatch for a ride sitting in requested.
func (e *Engine) ReOffer(rideID string) error {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()
	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if r.Status != models.RideRequested {
		return ride.ErrInvalidTransition
	}
	return e.offerRide(r)
}

// offerRide selects eligible operators and opens the offer. Caller must hold
// the ride lock or own the ride exclusively (fresh rides).
func (e *Engine) offerRide(r *models.Ride) error {
	eligible := e.eligibleOperators(r.Pickup)
	if len(eligible) == 0 {
		e.Logger.Info("no eligible operators", "ride_id", r.ID)
		return ErrNoEligibleOperators
	}
	ids := make([]string, 0, len(eligible))
	for _, op := range eligible {
		ids = append(ids, op.ID)
	}
	o, err := e.Registry.Open(r.ID, ids, e.TTL)
	if err != nil {
		return err
	}
	if err := ride.Transition(r, models.RideOffered, e.Clock.Now()); err != nil {
		return err
	}
	if err := e.Rides.UpdateRide(r); err != nil {
		return err
	}
	observability.OffersOpened.Inc()
	e.Logger.Info("offer opened", "ride_id", r.ID, "eligible", len(ids), "expires_at", o.ExpiresAt)

	if e.Notify != nil {
		for _, op := range eligible {
			alert := e.alertFor(r, op.ID, o.ExpiresAt)
			_ = e.Notify.Offer(op.ID, alert) // best-effort push
		}
	}
	return nil
}

// eligibleOperators returns available operators within the radius, nearest
// first, capped at the fan-out. Geo gives the candidates; the operator store
// is authoritative for availability.
func (e *Engine) eligibleOperators(pickup models.Coord) []models.Operator {
	cands := e.Geo.NearbyWithin(pickup.Lat, pickup.Lon, e.RadiusM, e.FanOut*2)
	out := make([]models.Operator, 0, len(cands))
	for _, c := range cands {
		op, err := e.Operators.GetOperator(c.ID)
		if err != nil || op.Status != models.OperatorAvailable {
			continue
		}
		out = append(out, *op)
		if len(out) == e.FanOut {
			break
		}
	}
	return out
}

// Accept resolves an operator's accept attempt. TryConsume is the sole
// arbiter: on any offer failure the ride is not mutated and the typed error
// is returned so the client can refresh.
func (e *Engine) Accept(rideID, operatorID string) error {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.Registry.TryConsume(rideID, operatorID); err != nil {
		if errors.Is(err, offer.ErrAlreadyConsumed) || errors.Is(err, offer.ErrExpired) {
			observability.AcceptConflicts.Inc()
		}
		return err
	}

	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if err := ride.Transition(r, models.RideAccepted, e.Clock.Now()); err != nil {
		return err
	}
	r.OperatorID = operatorID
	if err := e.Rides.UpdateRide(r); err != nil {
		return err
	}

	if op, err := e.Operators.GetOperator(operatorID); err == nil {
		if op.Status == models.OperatorAvailable {
			observability.OperatorsAvailable.Dec()
		}
		op.Status = models.OperatorBusy
		op.Updated = e.Clock.Now()
		_ = e.Operators.UpdateOperator(op)
	}

	observability.OffersConsumed.Inc()
	e.Logger.Info("offer accepted", "ride_id", rideID, "operator_id", operatorID)
	return nil
}

// Reject removes the operator from the ride's current offer. Idempotent: a
// stale or repeated reject is a no-op. When the eligible set empties the
// offer is closed and the ride goes back to requested for re-offer.
func (e *Engine) Reject(rideID, operatorID string) error {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()

	remaining, removed := e.Registry.RemoveEligible(rideID, operatorID)
	if !removed {
		return nil
	}
	e.Logger.Info("offer rejected", "ride_id", rideID, "operator_id", operatorID, "remaining", remaining)
	if remaining > 0 {
		return nil
	}
	// everyone rejected: close the offer and put the ride back in the queue
	e.Registry.Expire(rideID)
	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if err := ride.Transition(r, models.RideRequested, e.Clock.Now()); err != nil {
		return err
	}
	return e.Rides.UpdateRide(r)
}

// Pickup marks the ride in progress.
func (e *Engine) Pickup(rideID string) error {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()
	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	if err := ride.Transition(r, models.RideInProgress, e.Clock.Now()); err != nil {
		return err
	}
	return e.Rides.UpdateRide(r)
}

// Complete records the dropoff and frees the operator. The caller hands the
// returned ride to the review module for scoring.
func (e *Engine) Complete(rideID string, dropoff models.Coord) (*models.Ride, error) {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()

	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return nil, err
	}
	if err := ride.Transition(r, models.RideCompleted, e.Clock.Now()); err != nil {
		return nil, err
	}
	d := dropoff
	r.Dropoff = &d
	if err := e.Rides.UpdateRide(r); err != nil {
		return nil, err
	}

	if op, err := e.Operators.GetOperator(r.OperatorID); err == nil {
		if op.Status != models.OperatorAvailable {
			observability.OperatorsAvailable.Inc()
		}
		op.Status = models.OperatorAvailable
		op.TotalRides++
		op.Updated = e.Clock.Now()
		_ = e.Operators.UpdateOperator(op)
	}
	e.dropLock(rideID)
	e.Logger.Info("ride completed", "ride_id", rideID, "operator_id", r.OperatorID)
	return r, nil
}

// Cancel terminates a ride that has not completed.
func (e *Engine) Cancel(rideID string) error {
	l := e.rideLock(rideID)
	l.Lock()
	defer l.Unlock()
	r, err := e.Rides.GetRide(rideID)
	if err != nil {
		return err
	}
	e.Registry.Expire(rideID)
	if err := ride.Transition(r, models.RideCanceled, e.Clock.Now()); err != nil {
		return err
	}
	if err := e.Rides.UpdateRide(r); err != nil {
		return err
	}
	e.dropLock(rideID)
	return nil
}

// SweepExpired expires due offers and moves their rides back to requested,
// then attempts an immediate re-offer. It also retries rides parked in
// requested, either because nobody was eligible at request time or because
// every eligible operator rejected. The sweep only handles downstream
// signaling; TryConsume already refuses late accepts on its own.
func (e *Engine) SweepExpired() int {
	due := e.Registry.ExpireDue()
	for _, rideID := range due {
		observability.OffersExpired.Inc()
		l := e.rideLock(rideID)
		l.Lock()
		r, err := e.Rides.GetRide(rideID)
		if err != nil {
			l.Unlock()
			continue
		}
		if r.Status == models.RideOffered {
			if err := ride.Transition(r, models.RideRequested, e.Clock.Now()); err == nil {
				_ = e.Rides.UpdateRide(r)
				e.Logger.Info("offer expired", "ride_id", rideID)
				if err := e.offerRide(r); err != nil && !errors.Is(err, ErrNoEligibleOperators) {
					e.Logger.Warn("re-offer failed", "ride_id", rideID, "error", err)
				}
			}
		}
		l.Unlock()
	}

	parked, err := e.Rides.RidesByStatus(models.RideRequested)
	if err != nil {
		e.Logger.Warn("parked ride scan failed", "error", err)
		return len(due)
	}
	for _, r := range parked {
		l := e.rideLock(r.ID)
		l.Lock()
		cur, err := e.Rides.GetRide(r.ID)
		if err == nil && cur.Status == models.RideRequested {
			if err := e.offerRide(cur); err != nil && !errors.Is(err, ErrNoEligibleOperators) {
				e.Logger.Warn("re-offer failed", "ride_id", r.ID, "error", err)
			}
		}
		l.Unlock()
	}
	return len(due)
}

// Run drives the expiry sweep until ctx is canceled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.SweepExpired()
		}
	}
}

// AlertsFor lists the operator's open offers with pickup distance and a
// seconds-remaining value recomputed from the clock authority per call.
func (e *Engine) AlertsFor(operatorID string) []models.OfferAlert {
	offers := e.Registry.OpenFor(operatorID)
	out := make([]models.OfferAlert, 0, len(offers))
	for _, o := range offers {
		r, err := e.Rides.GetRide(o.RideID)
		if err != nil {
			continue
		}
		out = append(out, e.alertFor(r, operatorID, o.ExpiresAt))
	}
	return out
}

func (e *Engine) alertFor(r *models.Ride, operatorID string, expiresAt time.Time) models.OfferAlert {
	alert := models.OfferAlert{
		RideID:           r.ID,
		Pickup:           r.Pickup,
		Destination:      r.Destination,
		SecondsRemaining: clock.Remaining(e.Clock, expiresAt).Seconds(),
	}
	if op, err := e.Operators.GetOperator(operatorID); err == nil {
		alert.PickupDistanceM = geo.Haversine(op.Loc.Lat, op.Loc.Lon, r.Pickup.Lat, r.Pickup.Lon)
	}
	return alert
}
