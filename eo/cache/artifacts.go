package cache

import (
	"context"
	"fmt"
	"os"

	"github.com/example/go-eonorm/eo/mask"
	"github.com/example/go-eonorm/eo/raster"
)

// GetOrCreateRaster returns key's raster, computing and writing it on a miss.
// The returned raster is read back from the artifact either way.
func (s *Store) GetOrCreateRaster(ctx context.Context, key Key, rw raster.ReadWriter, compute func(ctx context.Context) (*raster.Raster, error)) (*raster.Raster, string, error) {
	key.Kind = KindRaster
	p, err := s.GetOrCreate(ctx, key, func(ctx context.Context, tmp string) error {
		r, err := compute(ctx)
		if err != nil {
			return err
		}
		return rw.Write(ctx, tmp, r)
	})
	if err != nil {
		return nil, "", err
	}
	r, err := rw.Read(ctx, p, raster.ReadRequest{})
	if err != nil {
		return nil, "", fmt.Errorf("cache: read %s: %w", p, err)
	}
	return r, p, nil
}

// GetOrCreateVector returns key's vector mask, stored as GeoJSON in crs,
// computing it on a miss.
func (s *Store) GetOrCreateVector(ctx context.Context, key Key, crs raster.CRS, compute func(ctx context.Context) (mask.Vector, error)) (mask.Vector, string, error) {
	key.Kind = KindVector
	p, err := s.GetOrCreate(ctx, key, func(ctx context.Context, tmp string) error {
		v, err := compute(ctx)
		if err != nil {
			return err
		}
		data, err := v.GeoJSON()
		if err != nil {
			return fmt.Errorf("encode geojson: %w", err)
		}
		return os.WriteFile(tmp, data, 0o644)
	})
	if err != nil {
		return mask.Vector{}, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return mask.Vector{}, "", fmt.Errorf("cache: read %s: %w", p, err)
	}
	return mask.ParseGeoJSON(data, crs), p, nil
}
