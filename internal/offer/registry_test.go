package offer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

// fakeClock lets tests move time explicitly.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestOpenConflict(t *testing.T) {
	r := NewRegistry(newFakeClock())
	if _, err := r.Open("ride1", []string{"a"}, 30*time.Second); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := r.Open("ride1", []string{"b"}, 30*time.Second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestOpenReplacesExpiredOffer(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	if _, err := r.Open("ride1", []string{"a"}, 10*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	fc.Advance(11 * time.Second)
	r.ExpireDue()
	if _, err := r.Open("ride1", []string{"b"}, 10*time.Second); err != nil {
		t.Fatalf("re-open after expiry: %v", err)
	}
}

func TestTryConsumeAtMostOneWinner(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	ops := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	if _, err := r.Open("ride1", ops, 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for _, op := range ops {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.TryConsume("ride1", id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyConsumed):
				losses++
			default:
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(op)
	}
	wg.Wait()
	if wins != 1 || losses != len(ops)-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}
}

func TestTryConsumeDeadlineExactness(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	if _, err := r.Open("ride1", []string{"a"}, 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	// exactly at the deadline: expiry beats the accept (closed-open interval)
	fc.Advance(30 * time.Second)
	if _, err := r.TryConsume("ride1", "a"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at deadline, got %v", err)
	}

	r2 := NewRegistry(fc)
	if _, err := r2.Open("ride2", []string{"a"}, 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	fc.Advance(29 * time.Second)
	o, err := r2.TryConsume("ride2", "a")
	if err != nil {
		t.Fatalf("expected accept strictly before deadline to succeed, got %v", err)
	}
	if o.WinnerID != "a" {
		t.Fatalf("expected winner a, got %s", o.WinnerID)
	}
}

func TestTryConsumeNotEligible(t *testing.T) {
	r := NewRegistry(newFakeClock())
	if _, err := r.Open("ride1", []string{"a", "b"}, 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.TryConsume("ride1", "z"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	// failed attempt must not consume the offer
	if _, err := r.TryConsume("ride1", "a"); err != nil {
		t.Fatalf("eligible operator should still win: %v", err)
	}
}

func TestTryConsumeMissing(t *testing.T) {
	r := NewRegistry(newFakeClock())
	if _, err := r.TryConsume("nope", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLateAcceptLosesEvenBeforeSweep(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	if _, err := r.Open("ride1", []string{"a"}, 5*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	fc.Advance(6 * time.Second)
	// no ExpireDue call: the check inside TryConsume is authoritative
	if _, err := r.TryConsume("ride1", "a"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired without sweep, got %v", err)
	}
}

func TestRemoveEligibleIdempotent(t *testing.T) {
	r := NewRegistry(newFakeClock())
	if _, err := r.Open("ride1", []string{"a", "b"}, 30*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if n, ok := r.RemoveEligible("ride1", "a"); !ok || n != 1 {
		t.Fatalf("expected remove a, got ok=%v n=%d", ok, n)
	}
	// repeating the same reject is a no-op, not an error
	if _, ok := r.RemoveEligible("ride1", "a"); ok {
		t.Fatalf("expected repeated remove to be a no-op")
	}
	if _, ok := r.RemoveEligible("missing", "a"); ok {
		t.Fatalf("expected remove on missing offer to be a no-op")
	}
	if n, ok := r.RemoveEligible("ride1", "b"); !ok || n != 0 {
		t.Fatalf("expected empty eligible set, got ok=%v n=%d", ok, n)
	}
}

func TestExpireDue(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	if _, err := r.Open("ride1", []string{"a"}, 10*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open("ride2", []string{"a"}, 60*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	fc.Advance(20 * time.Second)
	due := r.ExpireDue()
	if len(due) != 1 || due[0] != "ride1" {
		t.Fatalf("expected only ride1 due, got %v", due)
	}
	if o, _ := r.Get("ride2"); o.State != models.OfferOpen {
		t.Fatalf("expected ride2 still open")
	}
	// second sweep finds nothing new
	if due := r.ExpireDue(); len(due) != 0 {
		t.Fatalf("expected no new expiries, got %v", due)
	}
}

func TestOpenFor(t *testing.T) {
	fc := newFakeClock()
	r := NewRegistry(fc)
	if _, err := r.Open("ride1", []string{"a", "b"}, 10*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open("ride2", []string{"b"}, 10*time.Second); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := len(r.OpenFor("b")); got != 2 {
		t.Fatalf("expected 2 offers for b, got %d", got)
	}
	if got := len(r.OpenFor("a")); got != 1 {
		t.Fatalf("expected 1 offer for a, got %d", got)
	}
	fc.Advance(11 * time.Second)
	if got := len(r.OpenFor("b")); got != 0 {
		t.Fatalf("expected no live offers after deadline, got %d", got)
	}
}
