package geo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

// StaticSensor reports a fixed position, or ErrUnavailable when empty.
// It stands in for hardware on headless hosts.
type StaticSensor struct {
	Fix *entity.Coordinate
}

func (s StaticSensor) LastKnown(context.Context) (*entity.Coordinate, error) {
	if s.Fix == nil {
		return nil, nil
	}
	c := *s.Fix
	return &c, nil
}

func (s StaticSensor) Current(ctx context.Context, _ Accuracy) (*entity.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Fix == nil {
		return nil, ErrUnavailable
	}
	c := *s.Fix
	return &c, nil
}

// ParseFix parses "lat,lon" or "lat,lon,alt". An empty string yields nil.
func ParseFix(s string) (*entity.Coordinate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, common.InvalidInputErrorf("fix %q: want lat,lon[,alt]", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, common.InvalidInputErrorf("fix %q: %v", s, err)
		}
		vals[i] = v
	}

	c := &entity.Coordinate{Latitude: vals[0], Longitude: vals[1], Altitude: vals[2]}
	if err := ValidateCoordinate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateCoordinate checks latitude and longitude ranges. nil is valid.
func ValidateCoordinate(c *entity.Coordinate) error {
	if c == nil {
		return nil
	}
	v := common.NewValidator()
	v.Field("latitude", c.Latitude, common.InRange(-90, 90))
	v.Field("longitude", c.Longitude, common.InRange(-180, 180))
	return v.Err()
}

// FormatCoordinates renders a fix for display.
func FormatCoordinates(c *entity.Coordinate) string {
	if c == nil {
		return "Location unavailable"
	}
	return fmt.Sprintf("Lat: %.5f\nLon: %.5f\nAlt: %.1fm", c.Latitude, c.Longitude, c.Altitude)
}
