// Package redisgeo implements the geospatial index contract on Redis GEO
// commands. GEOSEARCH answers box queries with member coordinates in one
// round trip, which keeps the synchronizer's candidate lookup a single call.
package redisgeo

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendloc/vendloc/internal/geo"
	"github.com/vendloc/vendloc/internal/geoindex"
	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
	"github.com/vendloc/vendloc/internal/platform/timeouts"
)

const vendorPositionsKey = "geo:vendors"

// Kilometres per degree of latitude, and per degree of longitude at the
// equator. Longitude spans shrink with the cosine of the latitude.
const (
	kmPerDegreeLat  = 110.574
	kmPerDegreeLong = 111.320
)

// Index is a Redis-backed geoindex.Index implementation.
type Index struct {
	client      *redis.Client
	callTimeout time.Duration
}

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(client *redis.Client) *Index {
	return &Index{
		client:      client,
		callTimeout: timeouts.StoreCall,
	}
}

// Upsert inserts or moves a vendor's position.
func (i *Index) Upsert(ctx context.Context, vendorID string, position geo.Point) error {
	if err := position.Validate(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	err := i.client.GeoAdd(callCtx, vendorPositionsKey, &redis.GeoLocation{
		Name:      vendorID,
		Latitude:  position.Lat,
		Longitude: position.Long,
	}).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIndexUnavailable, "geoadd vendor position", err)
	}
	return nil
}

// QueryBounds returns the vendors currently inside bounds, positions
// included.
func (i *Index) QueryBounds(ctx context.Context, bounds geo.Bounds) ([]geoindex.Vendor, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	center := bounds.Center()
	latSpan, longSpan := bounds.Span()
	hits, err := i.client.GeoSearchLocation(callCtx, vendorPositionsKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:  center.Lat,
			Longitude: center.Long,
			BoxHeight: latSpan * kmPerDegreeLat,
			BoxWidth:  longSpan * kmPerDegreeLong * math.Cos(center.Lat*math.Pi/180),
			BoxUnit:   "km",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIndexUnavailable, "geosearch vendors", err)
	}

	vendors := make([]geoindex.Vendor, 0, len(hits))
	for _, hit := range hits {
		vendors = append(vendors, geoindex.Vendor{
			ID: hit.Name,
			Location: geo.Point{
				Lat:  hit.Latitude,
				Long: hit.Longitude,
			},
		})
	}
	return vendors, nil
}
