package query

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antelope-go/tarjanbg/internal/errors"
	"github.com/antelope-go/tarjanbg/internal/external"
	"github.com/antelope-go/tarjanbg/internal/model"
)

type fakeProcess struct{ ref string }

func (p fakeProcess) Ref() string  { return p.ref }
func (p fakeProcess) Name() string { return p.ref }

type fakeIndex struct {
	processes map[string]fakeProcess
}

func (f fakeIndex) Get(ref string) (external.Entity, error) {
	if p, ok := f.processes[ref]; ok {
		return p, nil
	}
	return nil, errors.New(errors.InvalidReferenceError{Got: ref})
}

func (f fakeIndex) GetContext(key model.ContextKey) (external.Context, error) {
	return nil, errors.New(errors.InvalidReferenceError{Got: key.Join()})
}

func (f fakeIndex) Processes() iter.Seq[external.Process] {
	return func(yield func(external.Process) bool) {}
}

type fakeInventory struct {
	refExch map[string][]external.Exchange
}

func (f fakeInventory) ReferenceExchanges(p external.Process) iter.Seq[external.Exchange] {
	return func(yield func(external.Exchange) bool) {
		for _, ex := range f.refExch[p.Ref()] {
			if !yield(ex) {
				return
			}
		}
	}
}

func (f fakeInventory) Inventory(p external.Process, refFlow external.FlowRef) iter.Seq[external.ExchangeRow] {
	return func(yield func(external.ExchangeRow) bool) {}
}

func (f fakeInventory) Terminate(flow external.FlowRef, dir model.Direction) iter.Seq[external.Process] {
	return func(yield func(external.Process) bool) {}
}

func newSurface() Surface {
	p1 := fakeProcess{ref: "P1"}
	p2 := fakeProcess{ref: "P2"}
	idx := fakeIndex{processes: map[string]fakeProcess{"P1": p1, "P2": p2}}
	inv := fakeInventory{refExch: map[string][]external.Exchange{
		"P1": {{Process: p1, FlowRef: "p1", Direction: model.DirectionOutput}},
		"P2": {
			{Process: p2, FlowRef: "p2a", Direction: model.DirectionOutput},
			{Process: p2, FlowRef: "p2b", Direction: model.DirectionOutput},
		},
	}}
	return Surface{Index: idx, Inventory: inv}
}

func TestFromProcessRefResolvesSoleReferenceExchange(t *testing.T) {
	t.Parallel()

	s := newSurface()
	procRef, flowRef, err := s.FromProcessRef("P1", "")
	require.NoError(t, err)
	assert.Equal(t, "P1", procRef)
	assert.Equal(t, "p1", flowRef)
}

func TestFromProcessRefAmbiguousWithoutSelector(t *testing.T) {
	t.Parallel()

	s := newSurface()
	_, _, err := s.FromProcessRef("P2", "")
	require.Error(t, err)
	var ambErr errors.AmbiguousTerminationError
	assert.True(t, errors.As(err, &ambErr))
}

func TestFromProcessRefSelectorDisambiguates(t *testing.T) {
	t.Parallel()

	s := newSurface()
	procRef, flowRef, err := s.FromProcessRef("P2", "p2b")
	require.NoError(t, err)
	assert.Equal(t, "P2", procRef)
	assert.Equal(t, "p2b", flowRef)
}

func TestFromProcessRefUnknownProcess(t *testing.T) {
	t.Parallel()

	s := newSurface()
	_, _, err := s.FromProcessRef("nope", "")
	assert.Error(t, err)
}

func TestFromProcessRefSelectorWithNoMatch(t *testing.T) {
	t.Parallel()

	s := newSurface()
	_, _, err := s.FromProcessRef("P1", "no-such-flow")
	assert.Error(t, err)
}

func TestFromExchange(t *testing.T) {
	t.Parallel()

	procRef, flowRef, err := FromExchange(Ref{ProcessRef: "P1", FlowRef: "p1", IsRef: true})
	require.NoError(t, err)
	assert.Equal(t, "P1", procRef)
	assert.Equal(t, "p1", flowRef)

	_, _, err = FromExchange(Ref{ProcessRef: "P1", FlowRef: "p1", IsRef: false})
	assert.Error(t, err)
}
