// Package clock provides an injectable time and jitter source.
//
// Age and TTL computations throughout mcpbridge go through a Clock so
// that tests can advance time deterministically instead of sleeping.
package clock

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts wall-clock reads. Implementations must return a
// monotonic-safe time.Time (time.Now() already carries a monotonic
// reading on all supported platforms).
type Clock interface {
	Now() time.Time
}

// realClock delegates to time.Now.
type realClock struct{}

// Real is the production Clock.
var Real Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

// Jitter produces a uniform random float64 in [0, 1) used to perturb
// retry delays. Tests substitute a deterministic source.
type Jitter interface {
	Float64() float64
}

// randJitter wraps the package-level math/rand/v2 generator, which is
// automatically seeded and safe for concurrent use.
type randJitter struct{}

// RealJitter is the production Jitter.
var RealJitter Jitter = randJitter{}

func (randJitter) Float64() float64 { return rand.Float64() }
