package location

import (
	"fmt"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/pkg/file"
	"github.com/floodwatch/location-agent/pkg/positioning"
)

// Region is a named administrative area with a lat/lon bounding box.
// Region data is static reference data, never mutated at runtime.
type Region struct {
	Name   string  `yaml:"name"`
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

// Contains reports whether the point lies within the region's bounding box.
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

func (r Region) center() (float64, float64) {
	return (r.MinLat + r.MaxLat) / 2, (r.MinLon + r.MaxLon) / 2
}

// RegionSet classifies coordinates against an ordered list of regions.
// Lookup order matters: enclaves (Kuala Lumpur, Putrajaya) precede the
// states that surround them.
type RegionSet struct {
	regions []Region
}

// DefaultRegions returns the built-in coverage table of Malaysian states
// and federal territories.
func DefaultRegions() *RegionSet {
	return &RegionSet{regions: []Region{
		{Name: "Kuala Lumpur", MinLat: 3.03, MaxLat: 3.25, MinLon: 101.58, MaxLon: 101.76},
		{Name: "Putrajaya", MinLat: 2.88, MaxLat: 2.98, MinLon: 101.65, MaxLon: 101.72},
		{Name: "Labuan", MinLat: 5.25, MaxLat: 5.40, MinLon: 115.15, MaxLon: 115.30},
		{Name: "Selangor", MinLat: 2.60, MaxLat: 3.85, MinLon: 100.75, MaxLon: 101.95},
		{Name: "Negeri Sembilan", MinLat: 2.40, MaxLat: 3.25, MinLon: 101.70, MaxLon: 102.60},
		{Name: "Melaka", MinLat: 2.05, MaxLat: 2.55, MinLon: 102.00, MaxLon: 102.60},
		{Name: "Johor", MinLat: 1.20, MaxLat: 2.80, MinLon: 102.45, MaxLon: 104.40},
		{Name: "Pahang", MinLat: 2.45, MaxLat: 4.80, MinLon: 101.30, MaxLon: 103.60},
		{Name: "Terengganu", MinLat: 4.00, MaxLat: 5.85, MinLon: 102.35, MaxLon: 103.70},
		{Name: "Kelantan", MinLat: 4.55, MaxLat: 6.25, MinLon: 101.30, MaxLon: 102.65},
		{Name: "Perak", MinLat: 3.65, MaxLat: 5.90, MinLon: 100.35, MaxLon: 101.90},
		{Name: "Penang", MinLat: 5.10, MaxLat: 5.60, MinLon: 100.10, MaxLon: 100.55},
		{Name: "Kedah", MinLat: 5.05, MaxLat: 6.70, MinLon: 99.60, MaxLon: 101.15},
		{Name: "Perlis", MinLat: 6.35, MaxLat: 6.75, MinLon: 100.10, MaxLon: 100.40},
		{Name: "Sabah", MinLat: 4.00, MaxLat: 7.40, MinLon: 115.15, MaxLon: 119.30},
		{Name: "Sarawak", MinLat: 0.80, MaxLat: 5.05, MinLon: 109.50, MaxLon: 115.60},
	}}
}

// LoadRegions reads a region table from a YAML file, falling back to the
// built-in table when path is empty. The table is loaded once at startup.
func LoadRegions(path string, fileClient file.FileOperations) (*RegionSet, error) {
	if path == "" {
		return DefaultRegions(), nil
	}

	var regions []Region
	if err := fileClient.ReadYamlFile(path, &regions); err != nil {
		return nil, fmt.Errorf("failed to read region table: %w", err)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("region table %s is empty", path)
	}
	return &RegionSet{regions: regions}, nil
}

// Classify maps a coordinate to a region name. Points outside every
// region resolve to the nearest region by distance to its center, so
// classification never fails.
func (rs *RegionSet) Classify(lat, lon float64) string {
	for _, r := range rs.regions {
		if r.Contains(lat, lon) {
			return r.Name
		}
	}
	return rs.nearest(lat, lon).Name
}

// IsWithinCoverage reports whether the point lies inside any region.
func (rs *RegionSet) IsWithinCoverage(lat, lon float64) bool {
	for _, r := range rs.regions {
		if r.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// NearestCoveredPoint clamps the point into the nearest region's
// bounding box, for callers outside the supported area.
func (rs *RegionSet) NearestCoveredPoint(lat, lon float64) models.Coordinate {
	r := rs.nearest(lat, lon)
	return models.Coordinate{
		Latitude:  clamp(lat, r.MinLat, r.MaxLat),
		Longitude: clamp(lon, r.MinLon, r.MaxLon),
		Source:    models.SourceDefault,
	}
}

func (rs *RegionSet) nearest(lat, lon float64) Region {
	best := rs.regions[0]
	bestDist := -1.0
	for _, r := range rs.regions {
		cLat, cLon := r.center()
		d := positioning.DistanceMeters(lat, lon, cLat, cLon)
		if bestDist < 0 || d < bestDist {
			best = r
			bestDist = d
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
