package hotplug

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/device/devicetest"
)

func testDevice(t *testing.T) (*device.Device, *devicetest.Fake) {
	t.Helper()
	f := devicetest.New(0, 8192, 0, 8192)
	f.AddCrtc(1).AddEncoder(10, []uint32{1}).
		AddConnector(100, 11, 1, 520, 320, []uint32{10},
			devicetest.WithMode(device.ModeInfo{ClockKHz: 148500, Hdisplay: 1920, Vdisplay: 1080, VRefresh: 60}, true))
	dev, err := device.OpenWithBackend("test0", f)
	require.NoError(t, err)
	return dev, f
}

func TestRefreshFiresOnConnectionChange(t *testing.T) {
	dev, fake := testDevice(t)
	defer dev.Close()

	w := New(dev, 10*time.Millisecond, zerolog.Nop())

	var events []Event
	w.refresh(func(e Event) { events = append(events, e) })
	require.Len(t, events, 1)
	assert.True(t, events[0].Connected)

	events = nil
	w.refresh(func(e Event) { events = append(events, e) })
	assert.Empty(t, events, "no transition, no event")

	fake.SetConnectionState(100, 2)
	events = nil
	w.refresh(func(e Event) { events = append(events, e) })
	require.Len(t, events, 1)
	assert.False(t, events[0].Connected)
}

func TestRunPollStopsOnContextCancel(t *testing.T) {
	dev, _ := testDevice(t)
	defer dev.Close()

	w := New(dev, 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.runPoll(ctx, func(Event) {}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runPoll did not stop after context cancel")
	}
}

func TestIsDRMUevent(t *testing.T) {
	msg := []byte("change@/devices/pci0000:00/card0\x00ACTION=change\x00SUBSYSTEM=drm\x00")
	assert.True(t, isDRMUevent(msg))

	other := []byte("change@/devices/pci0000:00/eth0\x00ACTION=change\x00SUBSYSTEM=net\x00")
	assert.False(t, isDRMUevent(other))
}
