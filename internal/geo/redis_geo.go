package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/fleet-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(op models.Operator) {
	// store as GEOADD and HSET for metadata
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: op.Loc.Lon, Latitude: op.Loc.Lat, Name: op.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(op.ID), map[string]interface{}{"rating": fmt.Sprintf("%f", op.Rating), "status": string(op.Status), "updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisGeo) NearbyWithin(lat, lon, radiusM float64, limit int) []models.Operator {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Operator, 0, len(res))
	for _, g := range res {
		op := models.Operator{ID: g.Name}
		op.Loc.Lat = g.Latitude
		op.Loc.Lon = g.Longitude
		// try to fetch metadata
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					op.Rating = f
				}
			}
			if v, ok := m["status"]; ok {
				op.Status = models.OperatorStatus(v)
			}
		}
		if op.Status == models.OperatorOffline {
			continue
		}
		out = append(out, op)
	}
	return out
}

func metaKey(id string) string { return "operator:meta:" + id }
