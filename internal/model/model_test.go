package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionRoundTrip(t *testing.T) {
	t.Parallel()

	for _, d := range []Direction{DirectionInput, DirectionOutput} {
		parsed, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func TestDirectionComplement(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DirectionOutput, DirectionInput.Complement())
	assert.Equal(t, DirectionInput, DirectionOutput.Complement())
}

func TestParseDirectionInvalid(t *testing.T) {
	t.Parallel()

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestContextKeyJoinRoundTrip(t *testing.T) {
	t.Parallel()

	k := ContextKey{"air", "urban air close to ground"}
	joined := k.Join()
	assert.Equal(t, "air; urban air close to ground", joined)
	assert.Equal(t, k, SplitContextKey(joined))
}

func TestSplitContextKeyEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitContextKey(""))
}

func TestClassificationIsCutoff(t *testing.T) {
	t.Parallel()

	assert.False(t, ClassElementary.IsCutoff())
	assert.True(t, ClassNonElementary.IsCutoff())
	assert.True(t, ClassCutoff.IsCutoff())
}

func TestProductFlowKey(t *testing.T) {
	t.Parallel()

	pf := ProductFlow{ProcessRef: "p1", FlowRef: "f1", Direction: DirectionOutput}
	assert.Equal(t, PFKey{ProcessRef: "p1", FlowRef: "f1"}, pf.Key())
}

func TestExteriorRefKeyDistinguishesContext(t *testing.T) {
	t.Parallel()

	a := ExteriorRef{FlowRef: "co2", Direction: DirectionOutput, Context: ContextKey{"air"}}
	b := ExteriorRef{FlowRef: "co2", Direction: DirectionOutput, Context: ContextKey{"water"}}
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestTermRefInSCC(t *testing.T) {
	t.Parallel()

	assert.False(t, TermRef{SCCID: NoSCC}.InSCC())
	assert.True(t, TermRef{SCCID: "p1"}.InSCC())
}
