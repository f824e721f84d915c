// Package workload simulates the work done inside worker hooks: randomised
// pauses and randomly produced items.
package workload

import (
	"time"

	"github.com/valyala/fastrand"
)

// Range is a closed interval of pause durations.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Profile holds the pause ranges for each hook.
type Profile struct {
	Think   Range
	Act     Range
	Produce Range
	Consume Range
}

// DefaultProfile returns the classic lab timings: thinking 200-400ms,
// eating 250-500ms, a 100ms pause after producing and 120-150ms to consume.
func DefaultProfile() Profile {
	return Profile{
		Think:   Range{Min: 200 * time.Millisecond, Max: 400 * time.Millisecond},
		Act:     Range{Min: 250 * time.Millisecond, Max: 500 * time.Millisecond},
		Produce: Range{Min: 100 * time.Millisecond, Max: 100 * time.Millisecond},
		Consume: Range{Min: 120 * time.Millisecond, Max: 150 * time.Millisecond},
	}
}

// Sim draws pauses from a Profile, multiplied by Scale.
// A zero Scale disables every pause.
type Sim struct {
	Profile Profile
	Scale   float64
}

// New returns a Sim using the default profile.
func New(scale float64) *Sim {
	return &Sim{Profile: DefaultProfile(), Scale: scale}
}

// Duration picks a random duration within r, scaled.
func (s *Sim) Duration(r Range) time.Duration {
	if s == nil || s.Scale <= 0 {
		return 0
	}
	d := r.Min
	if span := r.Max - r.Min; span > 0 {
		d += time.Duration(fastrand.Uint32n(uint32(span/time.Millisecond)+1)) * time.Millisecond
	}
	return time.Duration(float64(d) * s.Scale)
}

func (s *Sim) pause(r Range) {
	if d := s.Duration(r); d > 0 {
		time.Sleep(d)
	}
}

// Think pauses for a thinking period.
func (s *Sim) Think() {
	if s != nil {
		s.pause(s.Profile.Think)
	}
}

// Act pauses for an active period.
func (s *Sim) Act() {
	if s != nil {
		s.pause(s.Profile.Act)
	}
}

// Produce pauses after producing an item.
func (s *Sim) Produce() {
	if s != nil {
		s.pause(s.Profile.Produce)
	}
}

// Consume pauses while consuming an item.
func (s *Sim) Consume() {
	if s != nil {
		s.pause(s.Profile.Consume)
	}
}

// Item returns a random item in [0, 1000).
func Item() int {
	return int(fastrand.Uint32n(1000))
}
