// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package bandit

import (
	"math"
	"math/rand"
	"sync"
)

// sampler draws Beta variates as X/(X+Y) with X ~ Gamma(alpha,1) and
// Y ~ Gamma(beta,1). It is safe for concurrent use.
type sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSampler(seed int64) *sampler {
	return &sampler{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // sampling, not security
}

// beta draws one Beta(alpha, beta) sample.
func (s *sampler) beta(alpha, beta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	x := s.gamma(alpha)
	y := s.gamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gamma draws Gamma(shape, 1) with the Marsaglia-Tsang method.
// Must be called with mu held.
func (s *sampler) gamma(shape float64) float64 {
	if shape < 1 {
		// Boost: Gamma(a) = Gamma(a+1) * U^(1/a)
		u := s.rng.Float64()
		return s.gamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = s.rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
