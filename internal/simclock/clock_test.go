package simclock

import (
	"math"
	"testing"
	"time"
)

func TestProfileRates(t *testing.T) {
	tests := []struct {
		name   string
		rate   float64
		frozen bool
	}{
		{ProfileDesktop, 2.0, false},
		{ProfileMobile, 0.75, false},
		{ProfileReducedMotion, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LookupProfile(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(p.Rate()-tt.rate) > 1e-12 {
				t.Errorf("rate = %g, want %g", p.Rate(), tt.rate)
			}
			if p.Frozen != tt.frozen {
				t.Errorf("frozen = %v, want %v", p.Frozen, tt.frozen)
			}
		})
	}
}

func TestLookupProfileCaseInsensitive(t *testing.T) {
	if _, err := LookupProfile(" Desktop "); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := LookupProfile("tablet"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestClockAt(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p, _ := LookupProfile(ProfileDesktop)
	c := New(p, epoch)

	if got := c.At(epoch); got != 0 {
		t.Errorf("At(epoch) = %g, want 0", got)
	}
	if got := c.At(epoch.Add(10 * time.Second)); math.Abs(got-20) > 1e-9 {
		t.Errorf("At(+10s) = %g, want 20", got)
	}
	if got := c.At(epoch.Add(-5 * time.Second)); math.Abs(got+10) > 1e-9 {
		t.Errorf("At(-5s) = %g, want -10", got)
	}

	wall := c.WallTime(20)
	if d := wall.Sub(epoch.Add(10 * time.Second)); d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("WallTime(20) = %v, want epoch+10s", wall)
	}
}

func TestFrozenClock(t *testing.T) {
	epoch := time.Now()
	p, _ := LookupProfile(ProfileReducedMotion)
	c := New(p, epoch)

	if got := c.At(epoch.Add(time.Hour)); got != 0 {
		t.Errorf("frozen clock advanced to %g", got)
	}
	if !c.WallTime(42).Equal(epoch) {
		t.Error("frozen WallTime should return epoch")
	}
}

func TestJulianDay(t *testing.T) {
	c := &Clock{}
	// J2000.0 epoch.
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := c.JulianDay(j2000); math.Abs(got-2451545.0) > 1e-6 {
		t.Errorf("JulianDay(J2000) = %f, want 2451545.0", got)
	}
	// Unix epoch.
	unix := time.Unix(0, 0)
	if got := c.JulianDay(unix); math.Abs(got-2440587.5) > 1e-6 {
		t.Errorf("JulianDay(unix) = %f, want 2440587.5", got)
	}
}
