// Package simclock maps wall-clock time onto the abstract simulation time
// the orbital engine consumes.
package simclock

import (
	"fmt"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// Profile names.
const (
	ProfileDesktop       = "desktop"
	ProfileMobile        = "mobile"
	ProfileReducedMotion = "reduced_motion"
)

// Clock converts wall time to sim time: elapsed seconds since Epoch
// multiplied by Rate. A frozen clock always reports zero.
type Clock struct {
	Epoch  time.Time
	Rate   float64 // sim time units per wall second
	Frozen bool
}

// Profile describes how fast a renderer advances sim time.
type Profile struct {
	Name string
	// Increment is added to sim time every Interval.
	Increment float64
	Interval  time.Duration
	Frozen    bool
}

// Rate returns the profile's sim time units per wall second.
func (p Profile) Rate() float64 {
	if p.Frozen || p.Interval <= 0 {
		return 0
	}
	return p.Increment / p.Interval.Seconds()
}

var profiles = map[string]Profile{
	ProfileDesktop:       {Name: ProfileDesktop, Increment: 0.1, Interval: 50 * time.Millisecond},
	ProfileMobile:        {Name: ProfileMobile, Increment: 0.06, Interval: 80 * time.Millisecond},
	ProfileReducedMotion: {Name: ProfileReducedMotion, Frozen: true},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown clock profile %q", name)
	}
	return p, nil
}

// New returns a clock for the profile starting at epoch.
func New(p Profile, epoch time.Time) *Clock {
	return &Clock{
		Epoch:  epoch,
		Rate:   p.Rate(),
		Frozen: p.Frozen,
	}
}

// At returns the sim time at wall time t. Times before Epoch yield negative
// sim times, which the engine handles like any other.
func (c *Clock) At(t time.Time) float64 {
	if c.Frozen {
		return 0
	}
	return t.Sub(c.Epoch).Seconds() * c.Rate
}

// WallTime returns the wall time at which the clock reaches sim time s.
// For a frozen or stopped clock it returns Epoch.
func (c *Clock) WallTime(s float64) time.Time {
	if c.Frozen || c.Rate == 0 {
		return c.Epoch
	}
	return c.Epoch.Add(time.Duration(s / c.Rate * float64(time.Second)))
}

// JulianDay returns t as a Julian day number.
func (c *Clock) JulianDay(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}
