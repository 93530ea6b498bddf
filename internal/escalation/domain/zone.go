package escalation

import (
	"fmt"
	"strings"
)

// Zone is a rectangular burner region in frame pixel coordinates.
type Zone struct {
	Name   string  `json:"name" yaml:"name"`
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"w" yaml:"w"`
	Height float64 `json:"h" yaml:"h"`
}

// Validate checks zone invariants.
func (z Zone) Validate() error {
	if strings.TrimSpace(z.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidZone)
	}
	if z.Width <= 0 || z.Height <= 0 {
		return fmt.Errorf("%w: %s has non-positive size", ErrInvalidZone, z.Name)
	}
	return nil
}

// Center returns the zone midpoint.
func (z Zone) Center() (float64, float64) {
	return z.X + z.Width/2, z.Y + z.Height/2
}

// Contains reports whether the point lies inside the zone.
func (z Zone) Contains(x, y float64) bool {
	return x >= z.X && x <= z.X+z.Width && y >= z.Y && y <= z.Y+z.Height
}

// Overlaps reports whether the box (x1,y1)-(x2,y2) intersects the zone.
func (z Zone) Overlaps(x1, y1, x2, y2 float64) bool {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return x1 < z.X+z.Width && x2 > z.X && y1 < z.Y+z.Height && y2 > z.Y
}

// ValidateZoneSet checks each zone and rejects duplicate names.
func ValidateZoneSet(zones []Zone) error {
	seen := make(map[string]struct{}, len(zones))
	for _, zone := range zones {
		if err := zone.Validate(); err != nil {
			return err
		}
		if _, ok := seen[zone.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateZone, zone.Name)
		}
		seen[zone.Name] = struct{}{}
	}
	return nil
}
