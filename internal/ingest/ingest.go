package ingest

import (
	"context"
	"fmt"
	"time"

	"Lifeline/internal/store"
	"Lifeline/pkg/cache"
	"Lifeline/pkg/errors"
	"Lifeline/pkg/geo"
)

// cacheTTL bounds staleness of the hot-read copy; the table stays the source
// of truth.
const cacheTTL = 5 * time.Minute

// Service persists last-known coordinates, last write wins.
type Service struct {
	store store.Store
	cache cache.Cache
}

func New(s store.Store, c cache.Cache) *Service {
	return &Service{store: s, cache: c}
}

// Update validates and persists a coordinate report. Invalid payloads leave
// the stored coordinate untouched.
func (s *Service) Update(ctx context.Context, userID uint, lat, lng float64) error {
	p := geo.Point{Latitude: lat, Longitude: lng}
	if !p.Valid() {
		return errors.WithCodef(errors.CodeValidation, "invalid coordinates: %v, %v", lat, lng)
	}

	if err := s.store.UpdateLocation(ctx, userID, lat, lng); err != nil {
		return errors.WrapCode(errors.CodePersistence, err, "failed to store location")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, locationKey(userID), p, cacheTTL)
	}
	return nil
}

// LastKnown returns the cached coordinate when present, falling back to the
// user record.
func (s *Service) LastKnown(ctx context.Context, userID uint) (geo.Point, bool) {
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, locationKey(userID)); ok {
			if p, ok := v.(geo.Point); ok {
				return p, true
			}
		}
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil || !u.HasLocation() {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *u.Latitude, Longitude: *u.Longitude}, true
}

func locationKey(userID uint) string {
	return fmt.Sprintf("loc:%d", userID)
}
