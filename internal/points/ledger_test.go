package points

import (
	"sync"
	"testing"
	"time"

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

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestBalanceFoldsEntries(t *testing.T) {
	fc := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLedger(storage.NewMemoryStore(), fc)

	if _, err := l.Credit("op1", "ride1", 7); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Credit("op1", "ride2", 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Credit("op2", "ride3", 9); err != nil {
		t.Fatalf("credit: %v", err)
	}

	b, err := l.Balance("op1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 11 {
		t.Fatalf("expected balance 11, got %d", b)
	}
	if b, _ := l.Balance("op3"); b != 0 {
		t.Fatalf("expected empty balance 0, got %d", b)
	}
}

func TestExpiringSoon(t *testing.T) {
	fc := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLedger(storage.NewMemoryStore(), fc)

	if _, err := l.Credit("op1", "ride1", 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	fc.Advance(90 * 24 * time.Hour)
	if _, err := l.Credit("op1", "ride2", 3); err != nil {
		t.Fatalf("credit: %v", err)
	}

	exp, err := l.ExpiringSoon("op1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if exp != 5 {
		t.Fatalf("expected only the old entry (5) to be expiring, got %d", exp)
	}
	if b, _ := l.Balance("op1"); b != 8 {
		t.Fatalf("projection must not mutate the ledger, balance=%d", b)
	}
}
