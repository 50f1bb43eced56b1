package resourcemgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/device/devicetest"
)

func testDevice(t *testing.T) *device.Device {
	t.Helper()
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1).AddEncoder(10, []uint32{1}).
		AddConnector(100, 11, 1, 520, 320, []uint32{10},
			devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true))
	dev, err := device.OpenWithBackend("fake0", f)
	require.NoError(t, err)
	return dev
}

func TestLeaseWritebackRejectsDoubleLease(t *testing.T) {
	dev := testDevice(t)
	defer dev.Close()
	m := New(dev)

	token, err := m.LeaseWriteback(7)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, m.IsWritebackLeased(7))

	_, err = m.LeaseWriteback(7)
	assert.Error(t, err)
}

func TestReleaseWritebackRequiresMatchingToken(t *testing.T) {
	dev := testDevice(t)
	defer dev.Close()
	m := New(dev)

	token, err := m.LeaseWriteback(7)
	require.NoError(t, err)

	err = m.ReleaseWriteback(7, "not-the-token")
	assert.Error(t, err)
	assert.True(t, m.IsWritebackLeased(7))

	err = m.ReleaseWriteback(7, token)
	assert.NoError(t, err)
	assert.False(t, m.IsWritebackLeased(7))
}

func TestReleaseWritebackOfUnleasedConnectorIsNoop(t *testing.T) {
	dev := testDevice(t)
	defer dev.Close()
	m := New(dev)

	assert.NoError(t, m.ReleaseWriteback(42, "anything"))
}
