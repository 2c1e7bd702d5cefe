package background

import (
	"context"
	"iter"
	"testing"

	"github.com/james-bowman/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/antelope-go/tarjanbg/internal/assemble"
	"github.com/antelope-go/tarjanbg/internal/bgconfig"
	"github.com/antelope-go/tarjanbg/internal/external"
	"github.com/antelope-go/tarjanbg/internal/log"
	"github.com/antelope-go/tarjanbg/internal/model"
	"github.com/antelope-go/tarjanbg/internal/ordering"
)

type fakeProcess struct{ ref string }

func (p fakeProcess) Ref() string  { return p.ref }
func (p fakeProcess) Name() string { return p.ref }

type fakeContext struct{ key model.ContextKey }

func (c fakeContext) Key() model.ContextKey { return c.key }
func (c fakeContext) Elementary() bool      { return true }

type fakeProvider struct {
	processes map[string]fakeProcess
	rows      map[string][]external.ExchangeRow
}

func (f *fakeProvider) Get(ref string) (external.Entity, error) {
	p, ok := f.processes[ref]
	if !ok {
		return nil, assertErr(ref)
	}
	return p, nil
}

type assertErr string

func (e assertErr) Error() string { return "no such entity: " + string(e) }

func (f *fakeProvider) GetContext(key model.ContextKey) (external.Context, error) {
	return fakeContext{key: key}, nil
}

func (f *fakeProvider) Processes() iter.Seq[external.Process] {
	return func(yield func(external.Process) bool) {
		for _, p := range f.processes {
			if !yield(p) {
				return
			}
		}
	}
}

func (f *fakeProvider) ReferenceExchanges(p external.Process) iter.Seq[external.Exchange] {
	return func(yield func(external.Exchange) bool) {}
}

func (f *fakeProvider) Inventory(p external.Process, refFlow string) iter.Seq[external.ExchangeRow] {
	return func(yield func(external.ExchangeRow) bool) {
		for _, row := range f.rows[p.Ref()+"/"+refFlow] {
			if !yield(row) {
				return
			}
		}
	}
}

func (f *fakeProvider) Terminate(flow string, dir model.Direction) iter.Seq[external.Process] {
	return func(yield func(external.Process) bool) {}
}

// buildLinearFixture builds P1 -> P2 -> (exterior co2), a purely acyclic
// two-node foreground with no background partition at all.
func buildLinearFixture(t *testing.T) *FlatBackground {
	t.Helper()

	f := &fakeProvider{
		processes: map[string]fakeProcess{"P1": {"P1"}, "P2": {"P2"}},
		rows: map[string][]external.ExchangeRow{
			"P1/p1": {
				{FlowRef: "p2", Direction: model.DirectionInput, Value: 2.0,
					Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: "P2"}},
			},
			"P2/p2": {
				{FlowRef: "co2", Direction: model.DirectionOutput, Value: 3.0,
					Termination: model.Termination{Kind: model.TerminationContext, Context: model.ContextKey{"air"}}},
			},
		},
	}

	eng := &ordering.Engine{Index: f, Inventory: f}
	seed := model.ProductFlow{ProcessRef: "P1", FlowRef: "p1", Direction: model.DirectionOutput}
	g, err := eng.BuildFrom(context.Background(), []model.ProductFlow{seed})
	require.NoError(t, err)

	opts := bgconfig.Defaults()
	mats := assemble.Build(g, opts.FlattenAf)
	return fromGraph(g, mats, opts, log.NewNoop(), nil)
}

func TestIsInBackgroundAndSCC(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)
	assert.False(t, fb.IsInBackground("P1", "p1"))
	assert.False(t, fb.IsInBackground("P2", "p2"))
	assert.False(t, fb.IsInSCC("P1", "p1"))
}

func TestDependenciesAndExterior(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)

	deps, err := fb.Dependencies("P1", "p1")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "P2", deps[0].Termination.ProcessRef)

	ext, err := fb.Exterior("P2", "p2")
	require.NoError(t, err)
	require.Len(t, ext, 1)
	assert.Equal(t, "co2", ext[0].FlowRef)
}

func TestConsumers(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)
	consumers, err := fb.Consumers("P2", "p2")
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Equal(t, "P1", consumers[0].TermRef)
}

func TestLCIPropagatesThroughForeground(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)
	lci, err := fb.LCI(context.Background(), "P1", "p1")
	require.NoError(t, err)
	require.Len(t, lci, 1)
	assert.Equal(t, "co2", lci[0].FlowRef)
	assert.InDelta(t, 6.0, lci[0].Value, 1e-9) // 2 units of P2 * 3 co2/unit
}

func TestForegroundTraversal(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)
	exch, err := fb.Foreground("P1", "p1", false, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(exch), 2)
	assert.Equal(t, "P1", exch[0].NodeRef)
}

// buildCyclicForegroundFixture builds the literal S2 scenario: the seed
// reference product (P1, p1, Output) sits inside its own 2-node cycle with
// P2, so classify's seed rule forces that SCC foreground instead of
// background. This is the fixture flatten_af exists for: without
// flattening, Af contains the cycle itself.
func buildCyclicForegroundFixture(t *testing.T) *ordering.Graph {
	t.Helper()

	f := &fakeProvider{
		processes: map[string]fakeProcess{"P1": {"P1"}, "P2": {"P2"}},
		rows: map[string][]external.ExchangeRow{
			"P1/p1": {
				{FlowRef: "x", Direction: model.DirectionInput, Value: 2.0,
					Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: "P2"}},
			},
			"P2/x": {
				{FlowRef: "p1", Direction: model.DirectionInput, Value: 0.3,
					Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: "P1"}},
				{FlowRef: "co2", Direction: model.DirectionOutput, Value: 4.0,
					Termination: model.Termination{Kind: model.TerminationContext, Context: model.ContextKey{"air"}}},
			},
		},
	}

	eng := &ordering.Engine{Index: f, Inventory: f}
	seed := model.ProductFlow{ProcessRef: "P1", FlowRef: "p1", Direction: model.DirectionOutput}
	g, err := eng.BuildFrom(context.Background(), []model.ProductFlow{seed})
	require.NoError(t, err)
	return g
}

func TestSeedInsideCycleClassifiesForeground(t *testing.T) {
	t.Parallel()

	g := buildCyclicForegroundFixture(t)
	require.Len(t, g.Foreground, 2, "a seed's own SCC classifies foreground regardless of cyclicity")
	require.Empty(t, g.Background)
	for _, pf := range g.Foreground {
		assert.NotEqual(t, model.NoSCC, g.SCCOf[pf.Key()])
	}
}

func TestFlattenAfEliminatesForegroundCycle(t *testing.T) {
	t.Parallel()

	g := buildCyclicForegroundFixture(t)

	rawMats := assemble.Build(g, false)
	rawNonzero := countNonzero(rawMats.Af)
	assert.NotZero(t, rawNonzero, "the unflattened fixture is expected to carry the cycle in Af")

	flatMats := assemble.Build(g, true)
	assert.Zero(t, countNonzero(flatMats.Af), "flattening must fold every intra-SCC entry out of Af")
}

func countNonzero(m *sparse.CSC) int {
	r, c := m.Dims()
	n := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				n++
			}
		}
	}
	return n
}

func TestFlattenAfPreservesLCI(t *testing.T) {
	t.Parallel()

	g := buildCyclicForegroundFixture(t)

	flatOpts := bgconfig.Defaults()
	flatOpts.FlattenAf = true
	flatFB := fromGraph(g, assemble.Build(g, flatOpts.FlattenAf), flatOpts, log.NewNoop(), nil)

	rawOpts := bgconfig.Defaults()
	rawOpts.FlattenAf = false
	rawFB := fromGraph(g, assemble.Build(g, rawOpts.FlattenAf), rawOpts, log.NewNoop(), nil)

	flatLCI, err := flatFB.LCI(context.Background(), "P1", "p1")
	require.NoError(t, err)
	rawLCI, err := rawFB.LCI(context.Background(), "P1", "p1")
	require.NoError(t, err)

	require.Len(t, flatLCI, 1)
	require.Len(t, rawLCI, 1)
	assert.Equal(t, "co2", flatLCI[0].FlowRef)
	assert.InDelta(t, 20.0, flatLCI[0].Value, 1e-6)
	assert.InDelta(t, flatLCI[0].Value, rawLCI[0].Value, 1e-4)
}

func TestSysLCIBucketsMissedRows(t *testing.T) {
	t.Parallel()

	fb := buildLinearFixture(t)
	resolved, missed := fb.SysLCI(context.Background(), []DemandRow{
		{NodeRef: "P1", FlowRef: "p1", Direction: model.DirectionOutput,
			Termination: model.Termination{Kind: model.TerminationProcess, ProcessRef: "P1"}, Value: 1.0},
		{NodeRef: "P1", FlowRef: "unknown", Direction: model.DirectionInput,
			Termination: model.Termination{Kind: model.TerminationCutoff}, Value: 1.0},
	})
	require.Len(t, missed, 1)
	assert.Equal(t, "unknown", missed[0].FlowRef)
	require.Len(t, resolved, 1)
	assert.Equal(t, "co2", resolved[0].FlowRef)
}

// buildEmissionsCutoffsFixture builds a single-node foreground process with
// one elementary exterior exchange (co2, to a canonical "air" context) and
// one unresolvable cutoff exchange (waste, no termination and no candidate
// provider), so the emissions/cutoffs split has something to distinguish.
func buildEmissionsCutoffsFixture(t *testing.T) *FlatBackground {
	t.Helper()

	f := &fakeProvider{
		processes: map[string]fakeProcess{"P1": {"P1"}},
		rows: map[string][]external.ExchangeRow{
			"P1/p1": {
				{FlowRef: "co2", Direction: model.DirectionOutput, Value: 3.0,
					Termination: model.Termination{Kind: model.TerminationContext, Context: model.ContextKey{"air"}}},
				{FlowRef: "waste", Direction: model.DirectionOutput, Value: 7.0,
					Termination: model.Termination{Kind: model.TerminationCutoff}},
			},
		},
	}

	eng := &ordering.Engine{Index: f, Inventory: f}
	seed := model.ProductFlow{ProcessRef: "P1", FlowRef: "p1", Direction: model.DirectionOutput}
	g, err := eng.BuildFrom(context.Background(), []model.ProductFlow{seed})
	require.NoError(t, err)

	opts := bgconfig.Defaults()
	return fromGraph(g, assemble.Build(g, opts.FlattenAf), opts, log.NewNoop(), nil)
}

func TestEmissionsAndCutoffsSplit(t *testing.T) {
	t.Parallel()

	fb := buildEmissionsCutoffsFixture(t)

	emissions, err := fb.Emissions("P1", "p1")
	require.NoError(t, err)
	require.Len(t, emissions, 1)
	assert.Equal(t, "co2", emissions[0].FlowRef)

	cutoffs, err := fb.Cutoffs("P1", "p1")
	require.NoError(t, err)
	require.Len(t, cutoffs, 1)
	assert.Equal(t, "waste", cutoffs[0].FlowRef)

	ext, err := fb.Exterior("P1", "p1")
	require.NoError(t, err)
	assert.Len(t, ext, 2, "Exterior itself stays unfiltered; only Emissions/Cutoffs split it")
}

func TestEmittersDefaultsToElementaryAndAnyDirection(t *testing.T) {
	t.Parallel()

	fb := buildEmissionsCutoffsFixture(t)

	co2Emitters := fb.Emitters("co2", nil, nil, false)
	require.Len(t, co2Emitters, 1)
	assert.Equal(t, "P1", co2Emitters[0].TermRef)

	assert.Empty(t, fb.Emitters("waste", nil, nil, false), "cutoff XRs are excluded unless widened")
	assert.Len(t, fb.Emitters("waste", nil, nil, true), 1, "widen=true matches non-elementary/cutoff XRs")

	out := model.DirectionOutput
	assert.Len(t, fb.Emitters("co2", &out, nil, false), 1)
	in := model.DirectionInput
	assert.Empty(t, fb.Emitters("co2", &in, nil, false), "a direction pointer still filters when non-nil")
}

func TestUnitScoresDefaultMasksNonElementary(t *testing.T) {
	t.Parallel()

	fb := buildEmissionsCutoffsFixture(t)
	require.Equal(t, 2, fb.Mdim())

	charVector := mat.NewVecDense(fb.Mdim(), nil)
	for i := 0; i < fb.Mdim(); i++ {
		charVector.SetVec(i, 1.0)
	}

	sf, _ := fb.UnitScores(charVector, false)
	sfWide, _ := fb.UnitScores(charVector, true)

	require.Equal(t, 1, sf.Len())
	assert.Less(t, sf.AtVec(0), sfWide.AtVec(0), "widening must not decrease the unit score")
}
