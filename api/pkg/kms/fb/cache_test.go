package fb_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/fb"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

func newTestManager(t *testing.T) (*fb.Manager, *int) {
	calls := 0
	nextID := uint32(100)
	addFB2 := func(width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error) {
		calls++
		nextID++
		return nextID, nil
	}
	rmFB := func(fbID uint32) error { return nil }
	return fb.NewManager(addFB2, rmFB, zerolog.Nop()), &calls
}

func TestFindOrCreateReusesSameKey(t *testing.T) {
	m, calls := newTestManager(t)
	key := fb.Key{PlaneCount: 1, Handles: [4]uint32{7}, Width: 1920, Height: 1080, Format: types.FourCCXRGB8888}

	id1, err := m.FindOrCreate(fb.Params{Key: key})
	require.NoError(t, err)
	id2, err := m.FindOrCreate(fb.Params{Key: key})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, *calls, "identical keys must not trigger a second ADDFB2")
	assert.Equal(t, 1, m.Len())
}

func TestReleaseDestroysOnLastRef(t *testing.T) {
	m, _ := newTestManager(t)
	key := fb.Key{PlaneCount: 1, Handles: [4]uint32{9}, Width: 640, Height: 480, Format: types.FourCCARGB8888}

	_, err := m.FindOrCreate(fb.Params{Key: key})
	require.NoError(t, err)
	_, err = m.FindOrCreate(fb.Params{Key: key})
	require.NoError(t, err)

	require.NoError(t, m.Release(key))
	assert.Equal(t, 1, m.Len(), "one ref remains")

	require.NoError(t, m.Release(key))
	assert.Equal(t, 0, m.Len())
}

func TestDifferentKeysGetDifferentFBs(t *testing.T) {
	m, calls := newTestManager(t)
	k1 := fb.Key{PlaneCount: 1, Handles: [4]uint32{1}, Width: 1920, Height: 1080, Format: types.FourCCXRGB8888}
	k2 := fb.Key{PlaneCount: 1, Handles: [4]uint32{2}, Width: 1920, Height: 1080, Format: types.FourCCXRGB8888}

	id1, err := m.FindOrCreate(fb.Params{Key: k1})
	require.NoError(t, err)
	id2, err := m.FindOrCreate(fb.Params{Key: k2})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, *calls)
}
