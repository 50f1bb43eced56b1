package hwc_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/hwc"
	"github.com/helixml/drmhwc/api/pkg/kms/composition"
	"github.com/helixml/drmhwc/api/pkg/kms/compositor"
	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/device/devicetest"
	"github.com/helixml/drmhwc/api/pkg/kms/fb"
	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/planner"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

func newTestHwc(t *testing.T) (*hwc.Hwc, *devicetest.Fake, *fb.Manager) {
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1)
	f.AddEncoder(10, []uint32{1})
	f.AddConnector(20, 14, 1, 310, 174, []uint32{10},
		devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true))
	f.AddPlane(30, "Primary", []uint32{1}, []uint32{uint32(types.FourCCXRGB8888), uint32(types.FourCCARGB8888)})
	f.AddPlane(31, "Overlay", []uint32{1}, []uint32{uint32(types.FourCCARGB8888)})

	dev, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)
	conn, ok := dev.Connector(0)
	require.True(t, ok)
	conn.ActiveMode = conn.PreferredMode

	toHandle := func(fd int32) (uint32, error) { return uint32(fd + 1000), nil }
	gemClose := func(h uint32) error { return nil }
	fbs := fb.NewManager(dev.Backend().AddFB2, dev.Backend().RmFB, zerolog.Nop())

	h, err := hwc.New(context.Background(), dev, hwc.Config{
		Planner:       planner.Default(),
		FBManager:     fbs,
		Importer:      importer.NewGeneric(toHandle, gemClose),
		PreCompositor: &compositor.FakePreCompositor{FBID: 55},
		Log:           zerolog.Nop(),
	})
	require.NoError(t, err)
	return h, f, fbs
}

func TestSingleLayerValidatesWithNoClientChanges(t *testing.T) {
	h, _, _ := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1920, Bottom: 1080}))

	changes, err := d.Validate()
	require.NoError(t, err)
	assert.Equal(t, 0, changes)

	release, err := d.Present()
	require.NoError(t, err)
	assert.NotZero(t, release.SeqNo)
}

func TestDestroyLayerReleasesImport(t *testing.T) {
	h, _, _ := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 4, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.DestroyLayer(id))

	_, err := d.Validate()
	require.NoError(t, err)
}

func TestSetPowerModeOff(t *testing.T) {
	h, _, _ := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	require.NoError(t, d.SetPowerMode(false))
	assert.False(t, d.PowerOn())
	require.NoError(t, d.SetPowerMode(true))
	assert.True(t, d.PowerOn())
}

func TestPresentCachesFramebufferByBufferSizeNotDisplayFrame(t *testing.T) {
	h, _, fbs := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	// a 1280x720 buffer scaled up to fill a 1920x1080 display frame: the
	// cache key must reflect the buffer's own dimensions, not the
	// (unrelated) destination rectangle it's being scaled into.
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Width: 1280, Height: 720, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1280, Bottom: 720}))
	_, err := d.Validate()
	require.NoError(t, err)
	_, err = d.Present()
	require.NoError(t, err)
	require.Equal(t, 1, fbs.Len())

	// resizing only the destination rectangle, with the same buffer
	// still bound, must not mint a second cached framebuffer.
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1280, Bottom: 720}))
	_, err = d.Validate()
	require.NoError(t, err)
	_, err = d.Present()
	require.NoError(t, err)
	assert.Equal(t, 1, fbs.Len(), "changing the display frame alone must not create a new cached framebuffer for the same physical buffer")
}

func TestPresentDoesNotLeakFramebufferOnRepeatedUnchangedBuffer(t *testing.T) {
	h, _, fbs := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1920, Bottom: 1080}))

	for i := 0; i < 5; i++ {
		_, err := d.Validate()
		require.NoError(t, err)
		_, err = d.Present()
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fbs.Len(), "presenting the same buffer/geometry repeatedly must not mint a new cached framebuffer each frame")
}

func TestPresentReleasesFramebufferWhenBufferReplaced(t *testing.T) {
	h, _, fbs := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1920, Bottom: 1080}))
	_, err := d.Validate()
	require.NoError(t, err)
	_, err = d.Present()
	require.NoError(t, err)
	require.Equal(t, 1, fbs.Len())

	// swapping in a different buffer (new prime fd, so new handles) mints a new cache
	// entry; the old one must be released, not leaked.
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 4, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1280, Bottom: 720}))
	_, err = d.Validate()
	require.NoError(t, err)
	_, err = d.Present()
	require.NoError(t, err)

	assert.Equal(t, 1, fbs.Len(), "replacing a layer's buffer must release the superseded cache entry")
}

func TestDestroyLayerReleasesFramebuffer(t *testing.T) {
	h, _, fbs := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1920, Bottom: 1080}))
	_, err := d.Validate()
	require.NoError(t, err)
	_, err = d.Present()
	require.NoError(t, err)
	require.Equal(t, 1, fbs.Len())

	require.NoError(t, d.DestroyLayer(id))
	assert.Equal(t, 0, fbs.Len(), "destroying a layer must release its cached framebuffer")
}

func TestValidateCoercesUnimportableDeviceLayerToClient(t *testing.T) {
	h, _, _ := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	// a layer with no buffer imported yet can never be shown on hardware
	// this frame, so it must be coerced from the default Device request
	// to Client rather than reported as placed.
	id := d.CreateLayer()
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))

	changes, err := d.Validate()
	require.NoError(t, err)
	assert.Equal(t, 1, changes)
	assert.Equal(t, map[hwc.LayerID]types.CompositionType{id: types.CompositionClient}, d.GetChangedCompositionTypes())
}

func TestValidateHonorsExplicitClientRequestWithNoChange(t *testing.T) {
	h, _, _ := newTestHwc(t)
	d, ok := h.Display(0)
	require.True(t, ok)

	id := d.CreateLayer()
	require.NoError(t, d.SetLayerBuffer(id, importer.Buffer{PrimeFD: 3, Format: types.FourCCXRGB8888, NumPlanes: 1}, composition.Fence{}, false))
	require.NoError(t, d.SetLayerDisplayFrame(id, types.Rect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerSourceCrop(id, types.FRect{Right: 1920, Bottom: 1080}))
	require.NoError(t, d.SetLayerCompositionType(id, types.CompositionClient))

	changes, err := d.Validate()
	require.NoError(t, err)
	assert.Equal(t, 0, changes, "a layer already requested as Client that validates as Client is not a change")
	assert.Empty(t, d.GetChangedCompositionTypes())
}
