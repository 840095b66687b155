package allocation

import (
	"fmt"
	"sort"
)

// =============================================================================
// DESTINATION WEIGHTS - Which share of a week goes to which city
// =============================================================================

// WeightSourceKind tags a DestinationWeightSource.
type WeightSourceKind string

const (
	ByCityRequirement      WeightSourceKind = "city_requirement"
	ByClassificationMatrix WeightSourceKind = "classification_matrix"
	ByUniform              WeightSourceKind = "uniform"
)

// ParseWeightSourceKind accepts the configured precedence names.
func ParseWeightSourceKind(s string) (WeightSourceKind, error) {
	switch k := WeightSourceKind(s); k {
	case ByCityRequirement, ByClassificationMatrix:
		return k, nil
	}
	return "", fmt.Errorf("unknown weight source %q", s)
}

// Share is one slot of the destination apportionment. A slot without a city
// stands for a classification that has weight but no city in the topology:
// whatever lands on it is a class-level deficit.
type Share struct {
	CityID         CityID
	CityName       string
	Classification Classification
	Weight         float64
}

// DestinationWeightSource produces the destination shares of an account.
// Shares are returned cities first (by ID), then class-level slots (by class).
type DestinationWeightSource interface {
	Kind() WeightSourceKind
	Shares(topo Topology) []Share
}

// cityRequirementSource weights each city by its absolute requirement counts.
type cityRequirementSource struct {
	byCity map[CityID]CityRequirement
}

func (cityRequirementSource) Kind() WeightSourceKind { return ByCityRequirement }

func (s cityRequirementSource) Shares(topo Topology) []Share {
	var out []Share
	for _, c := range topo.SortedCities() {
		out = append(out, Share{
			CityID:         c.ID,
			CityName:       c.Name,
			Classification: c.Classification,
			Weight:         float64(s.byCity[c.ID].Total()),
		})
	}
	return out
}

// matrixSource aggregates each source column of the valid matrix rows into a
// class weight and splits it equally among the cities of that class.
type matrixSource struct {
	rows map[Classification]ClassificationMatrixRow
}

func (matrixSource) Kind() WeightSourceKind { return ByClassificationMatrix }

func (s matrixSource) Shares(topo Topology) []Share {
	classWeight := make(map[Classification]float64)
	for _, r := range s.rows {
		for _, c := range Classifications {
			classWeight[c] += r.From(c).InexactFloat64()
		}
	}
	cities := topo.SortedCities()
	perClass := make(map[Classification]int)
	for _, c := range cities {
		perClass[c.Classification]++
	}

	var out []Share
	for _, c := range cities {
		out = append(out, Share{
			CityID:         c.ID,
			CityName:       c.Name,
			Classification: c.Classification,
			Weight:         classWeight[c.Classification] / float64(perClass[c.Classification]),
		})
	}
	for _, c := range Classifications {
		if perClass[c] == 0 && classWeight[c] > 0 {
			out = append(out, Share{Classification: c, Weight: classWeight[c]})
		}
	}
	return out
}

// uniformSource gives every city the same weight.
type uniformSource struct{}

func (uniformSource) Kind() WeightSourceKind { return ByUniform }

func (uniformSource) Shares(topo Topology) []Share {
	var out []Share
	for _, c := range topo.SortedCities() {
		out = append(out, Share{CityID: c.ID, CityName: c.Name, Classification: c.Classification, Weight: 1})
	}
	return out
}

// NewCityRequirementSource builds the ByCityRequirement variant.
func NewCityRequirementSource(reqs []CityRequirement) DestinationWeightSource {
	byCity := make(map[CityID]CityRequirement, len(reqs))
	for _, r := range reqs {
		byCity[r.CityID] = r
	}
	return cityRequirementSource{byCity: byCity}
}

// NewMatrixSource builds the ByClassificationMatrix variant from valid rows.
func NewMatrixSource(rows map[Classification]ClassificationMatrixRow) DestinationWeightSource {
	return matrixSource{rows: rows}
}

// SelectWeightSource picks the destination weight source of a run. When both
// surfaces are configured, precedence decides. With neither configured every
// city weighs the same and a warning is returned.
func SelectWeightSource(matrix map[Classification]ClassificationMatrixRow, reqs []CityRequirement, precedence WeightSourceKind) (DestinationWeightSource, []string) {
	hasReqs := false
	for _, r := range reqs {
		if r.Total() > 0 {
			hasReqs = true
			break
		}
	}
	hasMatrix := len(matrix) > 0

	switch {
	case hasReqs && hasMatrix:
		if precedence == ByClassificationMatrix {
			return NewMatrixSource(matrix), nil
		}
		return NewCityRequirementSource(reqs), nil
	case hasReqs:
		return NewCityRequirementSource(reqs), nil
	case hasMatrix:
		return NewMatrixSource(matrix), nil
	}
	return uniformSource{}, []string{"no classification matrix or city requirements configured, cities weighted equally"}
}

// =============================================================================
// ORIGIN MIX - Which source classifications feed a destination
// =============================================================================

// OriginMix is a weight per source classification.
type OriginMix map[Classification]float64

// originMixes resolves the origin mix of each destination city: the matrix row
// of its classification, else its city requirement, else uniform.
func originMixes(topo Topology, matrix map[Classification]ClassificationMatrixRow, reqs []CityRequirement) map[CityID]OriginMix {
	byCity := make(map[CityID]CityRequirement, len(reqs))
	for _, r := range reqs {
		byCity[r.CityID] = r
	}
	out := make(map[CityID]OriginMix, len(topo.Cities))
	for _, c := range topo.Cities {
		mix := OriginMix{}
		if row, ok := matrix[c.Classification]; ok {
			for _, src := range Classifications {
				mix[src] = row.From(src).InexactFloat64()
			}
		} else if r, ok := byCity[c.ID]; ok && r.Total() > 0 {
			for _, src := range Classifications {
				mix[src] = float64(r.From(src))
			}
		} else {
			for _, src := range Classifications {
				mix[src] = 1
			}
		}
		out[c.ID] = mix
	}
	return out
}

// shareWeights extracts the weights of shares in order.
func shareWeights(shares []Share) []float64 {
	w := make([]float64, len(shares))
	for i, s := range shares {
		w[i] = s.Weight
	}
	return w
}

// sortShares orders city slots by ID and puts class-level slots last.
func sortShares(shares []Share) {
	sort.SliceStable(shares, func(i, j int) bool {
		a, b := shares[i], shares[j]
		if (a.CityID == "") != (b.CityID == "") {
			return b.CityID == ""
		}
		if a.CityID != b.CityID {
			return a.CityID < b.CityID
		}
		return a.Classification < b.Classification
	})
}

// prepareShares orders shares and guarantees at least one positive slot. With
// no usable weight the whole quota lands on a single unallocatable slot and
// shows up as deficit.
func prepareShares(shares []Share) []Share {
	out := append([]Share(nil), shares...)
	sortShares(out)
	for _, s := range out {
		if s.Weight > 0 {
			return out
		}
	}
	return append(out, Share{Weight: 1})
}
