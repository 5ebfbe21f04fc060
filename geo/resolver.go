package geo

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/warp/payout-engine/payout"
)

// Lookup outcomes passed to Resolver.Observe.
const (
	OutcomeCoordinates = "coordinates"
	OutcomeOutsideArea = "outside_area"
	OutcomeCacheHit    = "cache_hit"
	OutcomeGeocoded    = "geocoded"
	OutcomeFailed      = "failed"
)

// Resolver turns an address into a road distance from Origin.
type Resolver struct {
	Origin     Point
	RoadFactor float64 // zero means DefaultRoadFactor
	Geocoder   Geocoder
	Cache      Cache
	Area       Area // nil accepts every address
	Logger     *slog.Logger

	// Observe, when set, is told the outcome of every lookup.
	Observe func(outcome string)

	group singleflight.Group
}

func NewResolver(origin Point, geocoder Geocoder, cache Cache) *Resolver {
	return &Resolver{Origin: origin, Geocoder: geocoder, Cache: cache}
}

// DistanceKm implements fee.DistanceLookup. Distances are rounded to 0.1 km.
// Addresses outside the service area resolve to zero without an error.
func (r *Resolver) DistanceKm(ctx context.Context, address string) (decimal.Decimal, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		r.observe(OutcomeFailed)
		return decimal.Zero, &payout.UnresolvableAddressError{Address: address}
	}

	if p, ok := ParsePoint(addr); ok {
		r.observe(OutcomeCoordinates)
		return r.distance(p), nil
	}

	if r.Area != nil {
		if !r.Area.Contains(addr) {
			r.observe(OutcomeOutsideArea)
			return decimal.Zero, nil
		}
		addr = r.Area.Qualify(addr)
	}

	p, err := r.locate(ctx, addr)
	if err != nil {
		r.observe(OutcomeFailed)
		r.logger().Warn("geocoding failed", "address", addr, "error", err)
		return decimal.Zero, &payout.UnresolvableAddressError{Address: address, Cause: err}
	}
	return r.distance(p), nil
}

// Locate geocodes an address through the cache.
func (r *Resolver) Locate(ctx context.Context, address string) (Point, error) {
	return r.locate(ctx, strings.TrimSpace(address))
}

func (r *Resolver) locate(ctx context.Context, addr string) (Point, error) {
	if r.Cache != nil {
		p, ok, err := r.Cache.Get(ctx, addr)
		if err != nil {
			r.logger().Warn("distance cache read failed", "error", err)
		} else if ok {
			r.observe(OutcomeCacheHit)
			return p, nil
		}
	}

	// Concurrent lookups of one address share a single geocoder call.
	ch := r.group.DoChan(cacheKey(addr), func() (any, error) {
		p, err := r.Geocoder.Geocode(ctx, addr)
		if err != nil {
			return Point{}, err
		}
		if r.Cache != nil {
			if err := r.Cache.Set(ctx, addr, p); err != nil {
				r.logger().Warn("distance cache write failed", "error", err)
			}
		}
		return p, nil
	})
	select {
	case <-ctx.Done():
		return Point{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Point{}, res.Err
		}
		r.observe(OutcomeGeocoded)
		return res.Val.(Point), nil
	}
}

func (r *Resolver) distance(p Point) decimal.Decimal {
	factor := r.RoadFactor
	if factor <= 0 {
		factor = DefaultRoadFactor
	}
	return decimal.NewFromFloat(Haversine(r.Origin, p) * factor).Round(1)
}

func (r *Resolver) observe(outcome string) {
	if r.Observe != nil {
		r.Observe(outcome)
	}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
