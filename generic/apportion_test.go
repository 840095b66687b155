package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/allocation-engine/generic"
)

func TestApportion(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		weights []float64
		want    []int
	}{
		{"equal thirds", 10, []float64{1, 1, 1}, []int{4, 3, 3}},
		{"sixty forty", 5, []float64{0.6, 0.4}, []int{3, 2}},
		{"largest remainder wins", 10, []float64{0.14, 0.86}, []int{1, 9}},
		{"zero weight gets nothing", 7, []float64{0, 1, 0}, []int{0, 7, 0}},
		{"negative treated as zero", 4, []float64{-3, 1, 1}, []int{0, 2, 2}},
		{"no positive weight", 9, []float64{0, 0}, []int{0, 0}},
		{"zero total", 0, []float64{1, 2}, []int{0, 0}},
		{"no weights", 5, nil, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.Apportion(tt.total, tt.weights))
		})
	}
}

func TestApportion_SumsToTotal(t *testing.T) {
	weights := []float64{0.3, 1.7, 2.2, 0.01, 5}
	for total := 1; total <= 500; total++ {
		parts := generic.Apportion(total, weights)
		assert.Equal(t, total, generic.Sum(parts), "total %d", total)
	}
}

func TestApportionCapped(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		weights []float64
		caps    []int
		want    []int
	}{
		{"overflow moves to open part", 10, []float64{1, 1}, []int{3, 100}, []int{3, 7}},
		{"caps exhausted", 10, []float64{1, 1}, []int{2, 3}, []int{2, 3}},
		{"uncapped behaves like apportion", 10, []float64{1, 1, 1}, []int{10, 10, 10}, []int{4, 3, 3}},
		{"zero cap", 4, []float64{5, 1}, []int{0, 9}, []int{0, 4}},
		{"zero weight is never opened", 4, []float64{0, 1}, []int{9, 2}, []int{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.ApportionCapped(tt.total, tt.weights, tt.caps))
		})
	}
}

func TestPicker_IsDeterministic(t *testing.T) {
	weights := []float64{1, 0, 3, 2}
	draw := func(stream uint64) []int {
		p := generic.NewPicker(generic.Seed("acme", "post", "letter"), stream)
		out := make([]int, 50)
		for i := range out {
			out[i] = p.Pick(weights)
		}
		return out
	}

	first := draw(4)
	assert.Equal(t, first, draw(4))
	assert.NotEqual(t, first, draw(5))
	for _, idx := range first {
		assert.NotEqual(t, 1, idx, "zero weight is never drawn")
		assert.GreaterOrEqual(t, idx, 0)
	}
}

func TestPicker_NoPositiveWeight(t *testing.T) {
	p := generic.NewPicker(1, 2)
	assert.Equal(t, -1, p.Pick(nil))
	assert.Equal(t, -1, p.Pick([]float64{0, -1}))
	assert.Equal(t, 1, p.Pick([]float64{0, 4}))
}

func TestSeed_SeparatesParts(t *testing.T) {
	assert.Equal(t, generic.Seed("a", "bc"), generic.Seed("a", "bc"))
	assert.NotEqual(t, generic.Seed("a", "bc"), generic.Seed("ab", "c"))
}
