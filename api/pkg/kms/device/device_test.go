package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/device/devicetest"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

const (
	drmConnectorEDP   = 14
	drmConnectorHDMIA = 11
	drmConnectorWriteback = 18

	connStatusConnected    = 1
	connStatusDisconnected = 2
)

func singleDisplayFake() *devicetest.Fake {
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1).AddCrtc(2)
	f.AddEncoder(10, []uint32{1, 2})
	f.AddConnector(20, drmConnectorEDP, connStatusConnected, 310, 174, []uint32{10},
		devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true),
		devicetest.WithMode(device.ModeInfo{ClockKHz: 74250, Hdisplay: 1280, Vdisplay: 720, VRefresh: 60}, false),
	)
	f.AddPlane(30, "Primary", []uint32{1, 2}, []uint32{uint32(types.FourCCXRGB8888), uint32(types.FourCCARGB8888)})
	f.AddPlane(31, "Overlay", []uint32{1, 2}, []uint32{uint32(types.FourCCARGB8888), uint32(types.FourCCNV12)})
	f.AddPlane(32, "Cursor", []uint32{1, 2}, []uint32{uint32(types.FourCCARGB8888)})
	return f
}

func TestOpenRoutesInternalConnectorToDisplayZero(t *testing.T) {
	f := singleDisplayFake()
	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	displays := d.Displays()
	require.Equal(t, []int{0}, displays)

	conn, ok := d.Connector(0)
	require.True(t, ok)
	assert.Equal(t, uint32(20), conn.ID)
	assert.Equal(t, types.ConnectorInternal, conn.Type)
	assert.Equal(t, types.ConnectionConnected, conn.Connection)
	assert.NotEqual(t, -1, conn.PreferredMode)
}

func TestOpenPicksPreferredMode(t *testing.T) {
	f := singleDisplayFake()
	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	conn, ok := d.Connector(0)
	require.True(t, ok)
	var preferred device.Mode
	for _, m := range conn.Modes {
		if m.ID == conn.PreferredMode {
			preferred = m
		}
	}
	assert.EqualValues(t, 1920, preferred.Hdisplay)
	assert.EqualValues(t, 1080, preferred.Vdisplay)
}

func TestCreateDisplayPipeBindsCrtc(t *testing.T) {
	f := singleDisplayFake()
	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	crtc, ok := d.Crtc(0)
	require.True(t, ok)
	assert.Contains(t, []uint32{1, 2}, crtc.ID)
	assert.Equal(t, 0, crtc.Display)
}

func TestPlanesForCrtcSplitsByType(t *testing.T) {
	f := singleDisplayFake()
	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	crtc, ok := d.Crtc(0)
	require.True(t, ok)

	primary, overlay, cursor := d.PlanesForCrtc(crtc.ID)
	require.Len(t, primary, 1)
	require.Len(t, overlay, 1)
	require.Len(t, cursor, 1)
	assert.Equal(t, uint32(30), primary[0].ID)
	assert.Equal(t, uint32(31), overlay[0].ID)
	assert.Equal(t, uint32(32), cursor[0].ID)
}

func TestTwoConnectorsInternalBeforeExternal(t *testing.T) {
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1).AddCrtc(2)
	f.AddEncoder(10, []uint32{1})
	f.AddEncoder(11, []uint32{2})
	f.AddConnector(21, drmConnectorHDMIA, connStatusConnected, 520, 320, []uint32{11},
		devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true))
	f.AddConnector(20, drmConnectorEDP, connStatusConnected, 310, 174, []uint32{10},
		devicetest.WithMode(device.ModeInfo{ClockKHz: 74250, Hdisplay: 1280, Vdisplay: 720, VRefresh: 60}, true))
	f.AddPlane(30, "Primary", []uint32{1, 2}, []uint32{uint32(types.FourCCXRGB8888)})
	f.AddPlane(31, "Primary", []uint32{1, 2}, []uint32{uint32(types.FourCCXRGB8888)})

	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	display0, ok := d.Connector(0)
	require.True(t, ok)
	assert.Equal(t, uint32(20), display0.ID, "the internal (eDP) connector must take display 0 even though it is enumerated after the external one")

	display1, ok := d.Connector(1)
	require.True(t, ok)
	assert.Equal(t, uint32(21), display1.ID)
}

func TestWritebackConnectorIsNotADisplay(t *testing.T) {
	f := singleDisplayFake()
	f.AddEncoder(11, []uint32{1, 2})
	f.AddConnector(40, drmConnectorWriteback, connStatusConnected, 0, 0, []uint32{11})

	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	// Writeback connectors aren't part of Displays().
	assert.Equal(t, []int{0}, d.Displays())
}

func TestUpdateModesPreservesIDForEqualMode(t *testing.T) {
	f := singleDisplayFake()
	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	conn, ok := d.Connector(0)
	require.True(t, ok)
	oldModeID := conn.Modes[0].ID

	require.NoError(t, d.UpdateModes(20))

	conn, ok = d.Connector(0)
	require.True(t, ok)
	assert.Equal(t, oldModeID, conn.Modes[0].ID, "re-reading identical modes must preserve their display-scoped ids")
}

func TestDPI(t *testing.T) {
	assert.Equal(t, -1, device.DPI(1920, 0))
	assert.Equal(t, 160421, device.DPI(1920, 304)) // ~160.4 dpi, in dots per 1000 inches, rounded down by integer division
}

func TestPlaneCapabilityAccessorsReflectExposedProps(t *testing.T) {
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1)
	f.AddEncoder(10, []uint32{1})
	f.AddConnector(20, drmConnectorEDP, connStatusConnected, 310, 174, []uint32{10},
		devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true),
	)
	f.AddPlane(30, "Primary", []uint32{1}, []uint32{uint32(types.FourCCXRGB8888)})
	f.AddPlane(31, "Overlay", []uint32{1}, []uint32{uint32(types.FourCCARGB8888)},
		devicetest.WithoutRotation(), devicetest.WithoutBlendMode(), devicetest.WithoutAlpha())

	d, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)

	crtc, ok := d.Crtc(0)
	require.True(t, ok)
	primary, overlay, _ := d.PlanesForCrtc(crtc.ID)
	require.Len(t, primary, 1)
	require.Len(t, overlay, 1)

	full := primary[0]
	assert.True(t, full.HasRotation())
	assert.NotEmpty(t, full.RotationEnum())
	assert.True(t, full.HasBlendMode())
	assert.NotEmpty(t, full.BlendEnum())
	assert.True(t, full.HasAlpha())

	bare := overlay[0]
	assert.False(t, bare.HasRotation())
	assert.Empty(t, bare.RotationEnum())
	assert.False(t, bare.HasBlendMode())
	assert.Empty(t, bare.BlendEnum())
	assert.False(t, bare.HasAlpha())
}
