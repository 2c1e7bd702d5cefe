package ordmanifest

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antelope-go/tarjanbg/internal/model"
)

func sampleManifest() Manifest {
	return Manifest{
		Foreground: []model.TermRef{
			{FlowRef: "p1", Direction: model.DirectionOutput, TermRef: "P1", SCCID: model.NoSCC},
		},
		Background: []model.TermRef{
			{FlowRef: "p2", Direction: model.DirectionOutput, TermRef: "P2", SCCID: "P2"},
		},
		Exterior: []model.TermRef{
			{FlowRef: "co2", Direction: model.DirectionOutput, TermRef: "", SCCID: model.NoSCC},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "bg")
	m := sampleManifest()
	require.NoError(t, Write(base, m))

	got, err := Read(base)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadFallsBackToLegacySuffix(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "bg")
	m := sampleManifest()

	f, err := os.Create(base + legacySuffix)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	require.NoError(t, encode(gz, m))
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	got, err := Read(base)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadMissingFileErrors(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
