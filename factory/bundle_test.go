package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/store/memory"
)

const bundleJSON = `{
  "account_id": "acme",
  "capacity": {"max_events_per_panelist_week": 50},
  "cities": [
    {"id": "mad", "name": "Madrid", "classification": "A"},
    {"id": "bcn", "name": "Barcelona", "classification": "b"}
  ],
  "nodes": [
    {"code": "A-01", "city_id": "mad", "panelist_id": "p1"},
    {"code": "B-01", "city_id": "bcn", "panelist_id": "p2", "status": "inactive"}
  ],
  "classification_matrix": [
    {"destination": "A", "from_a": 60, "from_b": 40, "from_c": 0},
    {"destination": "B", "from_a": "50.5", "from_b": 40, "from_c": 0}
  ],
  "city_requirements": [{"city_id": "lis", "from_a": 1}],
  "seasonality": [
    {"product_id": "letter", "year": 2025, "months": [8,8,9,9,8,8,8,8,8,9,9,8]}
  ],
  "events": [
    {"id": "e1", "carrier_id": "post", "product_id": "letter", "origin": "B-01",
     "destination": "A-01", "scheduled_date": "2025-02-03", "status": "shipped"}
  ]
}`

func TestParseBundle_StrictAndSoft(t *testing.T) {
	f := NewConfigFactory()

	// WHEN: Parsing a bundle with a few soft problems
	bundle, issues, err := f.ParseBundle([]byte(bundleJSON))
	require.NoError(t, err)

	// THEN: Everything parses
	assert.Equal(t, allocation.AccountID("acme"), bundle.AccountID)
	require.Len(t, bundle.Topology.Cities, 2)
	assert.Equal(t, allocation.ClassB, bundle.Topology.Cities[1].Classification)
	assert.Equal(t, allocation.NodeActive, bundle.Topology.Nodes[0].Status)
	require.NotNil(t, bundle.Capacity)
	require.Len(t, bundle.Events, 1)
	assert.Equal(t, allocation.EventShipped, bundle.Events[0].Status)

	// AND: Soft problems are reported, one per kind
	kinds := map[string]int{}
	for _, i := range issues {
		kinds[i.Kind]++
	}
	assert.Equal(t, map[string]int{"topology": 1, "matrix": 1, "requirement": 1}, kinds)
}

func TestParseBundle_StrictErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"account_id": `},
		{"no_account", `{"cities": []}`},
		{"bad_class", `{"account_id": "a", "cities": [{"id": "x", "classification": "Z"}]}`},
		{"bad_status", `{"account_id": "a", "nodes": [{"code": "n", "status": "broken"}]}`},
		{"short_curve", `{"account_id": "a", "seasonality": [{"product_id": "p", "year": 2025, "months": [100]}]}`},
		{"bad_date", `{"account_id": "a", "events": [{"origin": "o", "destination": "d", "scheduled_date": "soon"}]}`},
	}
	f := NewConfigFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.ParseBundle([]byte(tt.json))
			assert.ErrorIs(t, err, generic.ErrInvalidConfiguration)
		})
	}
}

func TestBundle_Apply(t *testing.T) {
	ctx := context.Background()
	bundle, _, err := NewConfigFactory().ParseBundle([]byte(bundleJSON))
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, bundle.Apply(ctx, store))

	topo, err := store.Topology(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, topo.Nodes, 2)

	curves, err := store.Seasonality(ctx, "acme", "letter")
	require.NoError(t, err)
	require.Len(t, curves, 1)
	assert.True(t, allocation.SumsToHundred(curves[0].Total()))

	n, err := store.CountEvents(ctx, allocation.EventFilter{AccountID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
