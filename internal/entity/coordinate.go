package entity

// Coordinate is a geodetic fix in decimal degrees and meters.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// UnknownLocation is the sentinel stored when no fix could be acquired.
var UnknownLocation = Coordinate{}

// IsUnknown reports whether c is the (0,0,0) sentinel.
func (c Coordinate) IsUnknown() bool {
	return c == UnknownLocation
}

// OrUnknown dereferences c, substituting the sentinel for nil.
func (c *Coordinate) OrUnknown() Coordinate {
	if c == nil {
		return UnknownLocation
	}
	return *c
}
