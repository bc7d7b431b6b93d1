package catalog

import (
	"time"

	"github.com/AmoditYadav/amodit-space/internal/kepler"
)

// Body pairs a set of orbital elements with the identity and styling the
// renderer needs. Only Orbit and Moon feed the engine.
type Body struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Route           string          `json:"route"`
	Color           string          `json:"color"`
	SecondaryColor  string          `json:"secondary_color,omitempty"`
	Emissive        string          `json:"emissive,omitempty"`
	Size            float64         `json:"size"`
	HasAtmosphere   bool            `json:"has_atmosphere"`
	AtmosphereColor string          `json:"atmosphere_color,omitempty"`
	RotationSpeed   float64         `json:"rotation_speed"`
	Orbit           kepler.Elements `json:"orbit"`
	Moon            *kepler.Moon    `json:"moon,omitempty"`
}

// Dataset is an immutable snapshot of the body table.
type Dataset struct {
	Source   string
	LoadedAt time.Time
	Bodies   []Body
}

// Lookup returns the body with the given ID.
func (ds *Dataset) Lookup(id string) (Body, bool) {
	for _, b := range ds.Bodies {
		if b.ID == id {
			return b, true
		}
	}
	return Body{}, false
}
