package assemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antelope-go/tarjanbg/internal/model"
	"github.com/antelope-go/tarjanbg/internal/ordering"
)

func TestBuildSumsDuplicateEntries(t *testing.T) {
	t.Parallel()

	g := &ordering.Graph{
		Foreground: []model.ProductFlow{{ProcessRef: "P1", FlowRef: "p1"}, {ProcessRef: "P2", FlowRef: "p2"}},
		Exterior:   []model.ExteriorRef{{FlowRef: "co2"}},
		Af: []ordering.Entry{
			{Row: 1, Col: 0, Val: 2.0},
			{Row: 1, Col: 0, Val: 3.0},
		},
		Bf: []ordering.Entry{
			{Row: 0, Col: 1, Val: 5.0},
		},
	}

	m := Build(g, false)
	require.NotNil(t, m.Af)
	assert.Equal(t, 5.0, m.Af.At(1, 0))
	assert.Equal(t, 0.0, m.Af.At(0, 0))
	assert.Equal(t, 5.0, m.Bf.At(0, 1))
	assert.Nil(t, m.A)
	assert.Nil(t, m.B)
}

func TestBuildSkipsZeroEntriesAndFillsBackground(t *testing.T) {
	t.Parallel()

	g := &ordering.Graph{
		Foreground: []model.ProductFlow{{ProcessRef: "P1", FlowRef: "p1"}},
		Background: []model.ProductFlow{{ProcessRef: "P2", FlowRef: "p2"}},
		Exterior:   []model.ExteriorRef{{FlowRef: "co2"}},
		Ad:         []ordering.Entry{{Row: 0, Col: 0, Val: 0}},
		A:          []ordering.Entry{{Row: 0, Col: 0, Val: 1.5}},
		B:          []ordering.Entry{{Row: 0, Col: 0, Val: 4.0}},
	}

	m := Build(g, false)
	require.NotNil(t, m.A)
	require.NotNil(t, m.B)
	assert.Equal(t, 0.0, m.Ad.At(0, 0))
	assert.Equal(t, 1.5, m.A.At(0, 0))
	assert.Equal(t, 4.0, m.B.At(0, 0))
}

// TestBuildFlattenAfFoldsCycleIntoLeontiefInverse exercises split_af/flatten
// directly against a 2-node foreground SCC {0, 1} with Af[1,0]=2.0 and
// Af[0,1]=0.3, and an exterior exchange at Bf[0,1]=4.0. Both Af entries are
// intra-SCC, so flattening must zero Af entirely and spread Bf's single
// entry across both foreground columns via (I - Af_scc)^-1.
func TestBuildFlattenAfFoldsCycleIntoLeontiefInverse(t *testing.T) {
	t.Parallel()

	p1 := model.ProductFlow{ProcessRef: "P1", FlowRef: "p1"}
	p2 := model.ProductFlow{ProcessRef: "P2", FlowRef: "p2"}
	g := &ordering.Graph{
		Foreground: []model.ProductFlow{p1, p2},
		Exterior:   []model.ExteriorRef{{FlowRef: "co2"}},
		SCCOf: map[model.PFKey]string{
			p1.Key(): "P1scc",
			p2.Key(): "P1scc",
		},
		Af: []ordering.Entry{
			{Row: 1, Col: 0, Val: 2.0},
			{Row: 0, Col: 1, Val: 0.3},
		},
		Bf: []ordering.Entry{
			{Row: 0, Col: 1, Val: 4.0},
		},
	}

	flat := Build(g, true)
	assert.Equal(t, 0.0, flat.Af.At(0, 0))
	assert.Equal(t, 0.0, flat.Af.At(0, 1))
	assert.Equal(t, 0.0, flat.Af.At(1, 0))
	assert.Equal(t, 0.0, flat.Af.At(1, 1))

	assert.InDelta(t, 20.0, flat.Bf.At(0, 0), 1e-9)
	assert.InDelta(t, 10.0, flat.Bf.At(0, 1), 1e-9)

	raw := Build(g, false)
	assert.Equal(t, 2.0, raw.Af.At(1, 0))
	assert.Equal(t, 0.3, raw.Af.At(0, 1))
}
