package review

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/points"
	"github.com/example/fleet-dispatch/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	ledger *points.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore()
	ledger := points.NewLedger(store, fc)
	svc := NewService(store, store, ledger, fc, testLogger(), 100, 10)
	return &fixture{svc: svc, store: store, ledger: ledger}
}

// completedRide stores a completed ride whose dropoff error against the
// destination is errM meters east along the equator (1 degree ~= 111.32 km).
func (fx *fixture) completedRide(t *testing.T, id string, errM float64) *models.Ride {
	t.Helper()
	const metersPerDegree = 111194.92664455873 // R*pi/180 with R=6371km, exact for equatorial longitude offsets
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &models.Ride{
		ID:          id,
		RiderID:     "rider1",
		OperatorID:  "op1",
		Destination: models.Coord{Lat: 0, Lon: 0},
		Dropoff:     &models.Coord{Lat: 0, Lon: errM / metersPerDegree},
		Status:      models.RideCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := fx.store.SaveRide(r); err != nil {
		t.Fatalf("save ride: %v", err)
	}
	return r
}

func TestPointsFor(t *testing.T) {
	cases := []struct {
		dist float64
		want int
	}{
		{0, 10},
		{45, 5},
		{99, 0},
		{100, 0},
		{250, 0},
	}
	for _, c := range cases {
		if got := PointsFor(c.dist, 100, 10); got != c.want {
			t.Fatalf("PointsFor(%v) = %d, want %d", c.dist, got, c.want)
		}
	}
}

func TestScoreWithinThresholdAutoResolves(t *testing.T) {
	fx := newFixture(t)
	r := fx.completedRide(t, "ride1", 45)

	res, err := fx.svc.Score(r.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.NeedsReview {
		t.Fatalf("expected auto-resolve at 45m")
	}
	if res.Points != 5 {
		t.Fatalf("expected 5 points at ~45m, got %d", res.Points)
	}
	got, _ := fx.store.GetRide(r.ID)
	if got.Status != models.RideResolved || got.Points == nil || *got.Points != res.Points {
		t.Fatalf("expected resolved ride with points, got %+v", got)
	}
	b, _ := fx.ledger.Balance("op1")
	if b != res.Points {
		t.Fatalf("expected ledger credited once with %d, got %d", res.Points, b)
	}
}

func TestScoreBoundary(t *testing.T) {
	fx := newFixture(t)

	// exactly at the threshold: within, auto-resolved with 0 points
	at := fx.completedRide(t, "ride_at", 100)
	res, err := fx.svc.Score(at.ID)
	if err != nil {
		t.Fatalf("score at threshold: %v", err)
	}
	if res.NeedsReview {
		t.Fatalf("100.0m must be classified within threshold")
	}
	got, _ := fx.store.GetRide(at.ID)
	if got.Status != models.RideResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}

	// just past the threshold: pending review
	over := fx.completedRide(t, "ride_over", 100.5)
	res, err = fx.svc.Score(over.ID)
	if err != nil {
		t.Fatalf("score over threshold: %v", err)
	}
	if !res.NeedsReview || res.ReviewID == "" {
		t.Fatalf("expected review queued past threshold")
	}
	got, _ = fx.store.GetRide(over.ID)
	if got.Status != models.RidePendingReview {
		t.Fatalf("expected pending_review, got %s", got.Status)
	}
	// no points credited until an admin resolves
	if b, _ := fx.ledger.Balance("op1"); b != 0 {
		t.Fatalf("expected no credit before resolution, got %d", b)
	}
}

func TestScoreRequiresCompletedRide(t *testing.T) {
	fx := newFixture(t)
	r := &models.Ride{ID: "ride1", Status: models.RideAccepted}
	if err := fx.store.SaveRide(r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := fx.svc.Score(r.ID); !errors.Is(err, ErrNotScorable) {
		t.Fatalf("expected ErrNotScorable, got %v", err)
	}
}

func TestResolveAdjustScenario(t *testing.T) {
	fx := newFixture(t)
	r := fx.completedRide(t, "ride1", 150)
	res, err := fx.svc.Score(r.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !res.NeedsReview || res.Points != 0 {
		t.Fatalf("expected review with tentative 0 points, got %+v", res)
	}

	override := 4
	if err := fx.svc.Resolve(res.ReviewID, ActionAdjust, &override, "admin1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	b, _ := fx.ledger.Balance("op1")
	if b != 4 {
		t.Fatalf("expected +4 in ledger, got %d", b)
	}
	item, _ := fx.store.GetReview(res.ReviewID)
	if item.Status != models.ReviewAdjusted || item.FinalPoints == nil || *item.FinalPoints != 4 || item.ResolvedBy != "admin1" {
		t.Fatalf("expected adjusted item, got %+v", item)
	}
	got, _ := fx.store.GetRide(r.ID)
	if got.Status != models.RideResolved || got.Points == nil || *got.Points != 4 {
		t.Fatalf("expected resolved ride with 4 points, got %+v", got)
	}

	// second resolve fails and the ledger stays put
	if err := fx.svc.Resolve(res.ReviewID, ActionAdjust, &override, "admin1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	entries, _ := fx.store.EntriesFor("op1")
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
}

func TestResolveApproveAwardsZero(t *testing.T) {
	fx := newFixture(t)
	r := fx.completedRide(t, "ride1", 200)
	res, err := fx.svc.Score(r.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if err := fx.svc.Resolve(res.ReviewID, ActionApprove, nil, "admin1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b, _ := fx.ledger.Balance("op1"); b != 0 {
		t.Fatalf("approve must award zero points, got %d", b)
	}
	entries, _ := fx.store.EntriesFor("op1")
	if len(entries) != 1 {
		t.Fatalf("resolution appends exactly one entry, got %d", len(entries))
	}
	item, _ := fx.store.GetReview(res.ReviewID)
	if item.Status != models.ReviewApproved {
		t.Fatalf("expected approved, got %s", item.Status)
	}
}

// flakyReviews fails the first UpdateReview to exercise partial-write retry.
type flakyReviews struct {
	*storage.MemoryStore
	failures int
}

func (f *flakyReviews) UpdateReview(item *models.ReviewItem) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("write failed")
	}
	return f.MemoryStore.UpdateReview(item)
}

func TestResolveRetryAfterWriteFailureDoesNotDoubleCredit(t *testing.T) {
	fc := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore()
	ledger := points.NewLedger(store, fc)
	reviews := &flakyReviews{MemoryStore: store, failures: 1}
	svc := NewService(store, reviews, ledger, fc, testLogger(), 100, 10)

	r := &models.Ride{
		ID:          "ride1",
		RiderID:     "rider1",
		OperatorID:  "op1",
		Destination: models.Coord{Lat: 0, Lon: 0},
		Dropoff:     &models.Coord{Lat: 0.01, Lon: 0},
		Status:      models.RideCompleted,
	}
	if err := store.SaveRide(r); err != nil {
		t.Fatalf("save ride: %v", err)
	}
	res, err := svc.Score(r.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !res.NeedsReview {
		t.Fatalf("expected review queued")
	}

	override := 3
	if err := svc.Resolve(res.ReviewID, ActionAdjust, &override, "admin1"); err == nil {
		t.Fatalf("expected resolve to surface the write failure")
	}
	// failed resolution: nothing credited, item still pending, retry is safe
	if entries, _ := store.EntriesFor("op1"); len(entries) != 0 {
		t.Fatalf("failed resolution must not credit, got %d entries", len(entries))
	}
	item, _ := store.GetReview(res.ReviewID)
	if item.Status != models.ReviewPending {
		t.Fatalf("expected item still pending, got %s", item.Status)
	}

	if err := svc.Resolve(res.ReviewID, ActionAdjust, &override, "admin1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	entries, _ := store.EntriesFor("op1")
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry after retry, got %d", len(entries))
	}
	if b, _ := ledger.Balance("op1"); b != 3 {
		t.Fatalf("expected balance 3, got %d", b)
	}
}

func TestResolveInvalidPoints(t *testing.T) {
	fx := newFixture(t)
	r := fx.completedRide(t, "ride1", 200)
	res, err := fx.svc.Score(r.ID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for _, bad := range []int{-1, 11} {
		v := bad
		if err := fx.svc.Resolve(res.ReviewID, ActionAdjust, &v, "admin1"); !errors.Is(err, ErrInvalidPoints) {
			t.Fatalf("expected ErrInvalidPoints for %d, got %v", bad, err)
		}
	}
	if err := fx.svc.Resolve(res.ReviewID, ActionAdjust, nil, "admin1"); !errors.Is(err, ErrInvalidPoints) {
		t.Fatalf("expected ErrInvalidPoints for missing override, got %v", err)
	}
	// item still pending after invalid attempts
	item, _ := fx.store.GetReview(res.ReviewID)
	if item.Status != models.ReviewPending {
		t.Fatalf("invalid resolve must not mutate item, got %s", item.Status)
	}
}
