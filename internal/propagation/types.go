package propagation

import (
	"time"

	"github.com/AmoditYadav/amodit-space/internal/kepler"
)

// Keyframe holds the positions of all bodies at a single wall-clock instant.
type Keyframe struct {
	Timestamp time.Time      `json:"timestamp"`
	SimTime   float64        `json:"sim_time"`
	Bodies    []BodyPosition `json:"bodies"`
}

// BodyPosition holds one body's evaluated state at a keyframe.
type BodyPosition struct {
	ID           string       `json:"id"`
	Position     kepler.Vec3  `json:"position"` // (x, z, y)
	Speed        float64      `json:"speed"`    // a / r
	MoonPosition *kepler.Vec3 `json:"moon_position,omitempty"`
}

// PropConfig holds propagation configuration.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Keyframe interval (default: 1s)
	Horizon time.Duration // Propagation horizon (default: 120s)
}
