/*
apportion.go - Integer apportionment and deterministic weighted draws

PURPOSE:
  Every stage of plan generation turns a real-valued share into whole
  events. Two primitives cover all of them:

  Apportion:
    Largest remainder method. Parts always sum to the requested total when
    at least one weight is positive. Equal remainders go to the lower index,
    so callers control tie-breaks through the order of their weights.

  Picker:
    One weighted draw per call from a seeded PCG stream. The same seed and
    stream always yield the same sequence of picks, which makes plan
    regeneration reproducible.

EXAMPLE:
  Apportion(10, []float64{1, 1, 1})  // [4 3 3]
  Apportion(5,  []float64{0.6, 0.4}) // [3 2]

SEE ALSO:
  - allocation/temporal.go: weekly buckets
  - allocation/spatial.go: city and node shares
  - allocation/routing.go: origin selection
*/
package generic

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// remainderTolerance treats remainders closer than this as equal.
const remainderTolerance = 1e-9

// Apportion splits total into integer parts proportional to weights.
// Non-positive weights receive nothing. When no weight is positive every
// part is zero and callers must account for the unplaced total themselves.
func Apportion(total int, weights []float64) []int {
	parts := make([]int, len(weights))
	if total <= 0 || len(weights) == 0 {
		return parts
	}

	w := sanitize(weights)
	sum := floats.Sum(w)
	if sum <= 0 {
		return parts
	}

	type remainder struct {
		idx  int
		frac float64
	}
	rems := make([]remainder, 0, len(w))
	assigned := 0
	for i, x := range w {
		if x == 0 {
			continue
		}
		quota := float64(total) * x / sum
		whole := math.Floor(quota)
		parts[i] = int(whole)
		assigned += parts[i]
		rems = append(rems, remainder{idx: i, frac: quota - whole})
	}

	sort.SliceStable(rems, func(a, b int) bool {
		if math.Abs(rems[a].frac-rems[b].frac) > remainderTolerance {
			return rems[a].frac > rems[b].frac
		}
		return rems[a].idx < rems[b].idx
	})
	for k := 0; assigned < total; k++ {
		parts[rems[k%len(rems)].idx]++
		assigned++
	}
	return parts
}

// Sum adds integer parts.
func Sum(parts []int) int {
	n := 0
	for _, p := range parts {
		n += p
	}
	return n
}

func sanitize(weights []float64) []float64 {
	w := make([]float64, len(weights))
	for i, x := range weights {
		if x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x) {
			w[i] = x
		}
	}
	return w
}

// =============================================================================
// PICKER - Seeded weighted selection
// =============================================================================

// Picker draws indices proportionally to weights.
type Picker struct {
	rng *rand.Rand
}

// NewPicker returns a picker reading from the PCG stream (seed, stream).
func NewPicker(seed, stream uint64) *Picker {
	return &Picker{rng: rand.New(rand.NewPCG(seed, stream))}
}

// Pick returns the index of the drawn weight, or -1 if no weight is positive.
func (p *Picker) Pick(weights []float64) int {
	w := sanitize(weights)
	total := floats.Sum(w)
	if total <= 0 {
		return -1
	}
	r := p.rng.Float64() * total
	last := -1
	for i, x := range w {
		if x == 0 {
			continue
		}
		last = i
		if r < x {
			return i
		}
		r -= x
	}
	return last
}

// Seed hashes the given parts into a stable 64-bit seed.
func Seed(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// ApportionCapped is Apportion with an upper bound per part. Whatever a
// capped part cannot take is redistributed over the others in proportion to
// their weights. The returned parts may sum to less than total when the caps
// are exhausted.
func ApportionCapped(total int, weights []float64, caps []int) []int {
	parts := make([]int, len(weights))
	w := sanitize(weights)
	remaining := total
	for remaining > 0 {
		active := make([]float64, len(w))
		open := false
		for i := range w {
			if w[i] > 0 && i < len(caps) && parts[i] < caps[i] {
				active[i] = w[i]
				open = true
			}
		}
		if !open {
			break
		}
		progress := 0
		for i, n := range Apportion(remaining, active) {
			if room := caps[i] - parts[i]; n > room {
				n = room
			}
			parts[i] += n
			progress += n
		}
		if progress == 0 {
			break
		}
		remaining -= progress
	}
	return parts
}
