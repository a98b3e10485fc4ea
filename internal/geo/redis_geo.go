package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridepool/internal/models"
)

// RedisLocator implements Locator using Redis GEO commands. Driver
// metadata (availability, rating) rides alongside in a per-driver hash.
type RedisLocator struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisLocator(addr, password, key string) *RedisLocator {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisLocator{client: c, key: key, ctx: context.Background()}
}

func (r *RedisLocator) Upsert(d models.Driver) {
	if d.CurrentLocation == nil {
		return
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.CurrentLocation.Lng, Latitude: d.CurrentLocation.Lat, Name: d.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"rating":    fmt.Sprintf("%f", d.Rating),
		"available": strconv.FormatBool(d.IsAvailable),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisLocator) Nearby(origin models.Coordinate, radiusKm float64, limit int) []RankedDriver {
	res, err := r.client.GeoRadius(r.ctx, r.key, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]RankedDriver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name, CurrentLocation: &models.Coordinate{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					d.Rating = f
				}
			}
			if v, ok := m["available"]; ok {
				d.IsAvailable = (v == "true")
			}
		}
		// GEORADIUS already filtered by radius; skip drivers flagged busy
		if !d.IsAvailable {
			continue
		}
		out = append(out, RankedDriver{Driver: d, DistanceKm: g.Dist})
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
