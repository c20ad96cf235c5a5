package weather

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidLocation is returned for locations missing latitude or longitude.
var ErrInvalidLocation = errors.New("invalid location")

var validate = validator.New()

// Location is one entry of the upstream location list.
// Both coordinates must be present; zero is a valid coordinate.
type Location struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

// NewLocation builds a complete Location.
func NewLocation(lat, lon float64) Location {
	return Location{Latitude: &lat, Longitude: &lon}
}

// Validate reports ErrInvalidLocation when a coordinate is missing.
func (l Location) Validate() error {
	if err := validate.Struct(l); err != nil {
		return errors.Join(ErrInvalidLocation, err)
	}
	return nil
}

// Key returns a canonical "lat,lon" string used in logs.
func (l Location) Key() string {
	return formatCoord(l.Latitude) + "," + formatCoord(l.Longitude)
}

func formatCoord(v *float64) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Payload is the envelope routed to the DLQ. Weather is set only after a
// successful fetch, so a payload without it marks a failed weather request.
type Payload struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Weather   json.RawMessage `json:"weather,omitempty"`
}
