package importer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

func fakeHandleFuncs() (importer.PrimeFDToHandleFunc, importer.GemCloseFunc, *[]uint32) {
	next := uint32(1)
	var closed []uint32
	toHandle := func(fd int32) (uint32, error) {
		next++
		return next, nil
	}
	gemClose := func(h uint32) error {
		closed = append(closed, h)
		return nil
	}
	return toHandle, gemClose, &closed
}

func TestGenericImporterFansOutOneHandle(t *testing.T) {
	toHandle, gemClose, closed := fakeHandleFuncs()
	imp := importer.NewGeneric(toHandle, gemClose)

	b := importer.Buffer{PrimeFD: 3, Width: 1920, Height: 1080, Format: types.FourCCXRGB8888, Modifier: types.ModifierLinear, NumPlanes: 1}
	require.True(t, imp.CanImportBuffer(b))

	out, err := imp.ImportBuffer(b)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumPlanes)

	require.NoError(t, imp.ReleaseBuffer(out))
	assert.Len(t, *closed, 1)
}

func TestChainPicksMinigbmForYVU420Android(t *testing.T) {
	toHandle, gemClose, _ := fakeHandleFuncs()
	chain := importer.NewChain(
		importer.NewGeneric(toHandle, gemClose),
		importer.NewMinigbm(toHandle, gemClose),
	)

	b := importer.Buffer{PrimeFD: 5, Format: types.FourCCYVU420Android, NumPlanes: 3}
	require.True(t, chain.CanImportBuffer(b))

	out, err := chain.ImportBuffer(b)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumPlanes)
	assert.Equal(t, out.Handles[0], out.Handles[1])
	assert.Equal(t, out.Handles[0], out.Handles[2])
}

func TestChainRejectsUnknownFormat(t *testing.T) {
	toHandle, gemClose, _ := fakeHandleFuncs()
	chain := importer.NewChain(importer.NewGeneric(toHandle, gemClose))

	b := importer.Buffer{Format: types.FourCCNV12, Modifier: types.Modifier(0xdead), NumPlanes: 2}
	assert.False(t, chain.CanImportBuffer(b))

	_, err := chain.ImportBuffer(b)
	assert.Error(t, err)
}

func TestNVIDIAImporterUsesTwoFDs(t *testing.T) {
	toHandle, gemClose, closed := fakeHandleFuncs()
	imp := importer.NewNVIDIA(toHandle, gemClose, func(b importer.Buffer) (int32, bool) {
		return b.PrimeFD + 1, true
	})

	b := importer.Buffer{PrimeFD: 10, Format: types.FourCCNV12, NumPlanes: 2}
	out, err := imp.ImportBuffer(b)
	require.NoError(t, err)
	assert.NotEqual(t, out.Handles[0], out.Handles[1])

	require.NoError(t, imp.ReleaseBuffer(out))
	assert.Len(t, *closed, 2)
}
