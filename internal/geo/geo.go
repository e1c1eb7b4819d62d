package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
)

// Geo is the minimal interface the dispatch engine needs for eligibility
// candidate selection.
type Geo interface {
	NearbyWithin(lat, lon, radiusM float64, limit int) []models.Operator
	Upsert(op models.Operator)
}

type Index struct {
	mu        sync.RWMutex
	operators map[string]models.Operator
}

func NewIndex() *Index {
	return &Index{operators: make(map[string]models.Operator)}
}

func (g *Index) Upsert(op models.Operator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op.Updated = time.Now()
	g.operators[op.ID] = op
}

// naive scan; in prod use geo-hash or H3
func (g *Index) NearbyWithin(lat, lon, radiusM float64, limit int) []models.Operator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		op   models.Operator
		dist float64
	}
	arr := make([]pair, 0, len(g.operators))
	for _, op := range g.operators {
		if op.Status == models.OperatorOffline {
			continue
		}
		dist := Haversine(lat, lon, op.Loc.Lat, op.Loc.Lon)
		if dist > radiusM {
			continue
		}
		arr = append(arr, pair{op, dist})
	}
	// partial selection sort for top-N nearest
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Operator, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].op)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
