package geo

import (
	"testing"

	"github.com/example/fleet-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of longitude at the equator is ~111.32 km
	d := Haversine(0, 0, 0, 1)
	if d < 111000 || d > 112000 {
		t.Fatalf("expected ~111.3km, got %f", d)
	}
}

func TestNearbyWithinRadiusAndOrdering(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Operator{ID: "near", Loc: models.Coord{Lat: 0.001, Lon: 0}, Status: models.OperatorAvailable})
	idx.Upsert(models.Operator{ID: "nearer", Loc: models.Coord{Lat: 0.0005, Lon: 0}, Status: models.OperatorAvailable})
	idx.Upsert(models.Operator{ID: "far", Loc: models.Coord{Lat: 1, Lon: 1}, Status: models.OperatorAvailable})
	idx.Upsert(models.Operator{ID: "offline", Loc: models.Coord{Lat: 0, Lon: 0}, Status: models.OperatorOffline})

	got := idx.NearbyWithin(0, 0, 5000, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 in-radius online operators, got %d", len(got))
	}
	if got[0].ID != "nearer" || got[1].ID != "near" {
		t.Fatalf("expected nearest-first ordering, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestNearbyWithinLimit(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Operator{ID: "a", Loc: models.Coord{Lat: 0.001, Lon: 0}, Status: models.OperatorAvailable})
	idx.Upsert(models.Operator{ID: "b", Loc: models.Coord{Lat: 0.002, Lon: 0}, Status: models.OperatorAvailable})
	idx.Upsert(models.Operator{ID: "c", Loc: models.Coord{Lat: 0.003, Lon: 0}, Status: models.OperatorAvailable})

	got := idx.NearbyWithin(0, 0, 5000, 2)
	if len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
}
