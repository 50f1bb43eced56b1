package composition_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/drmhwc/api/pkg/kms/composition"
)

func TestSoftTimelineSignalsInOrder(t *testing.T) {
	tl := composition.NewSoftTimeline()
	f1 := tl.CreateFence()
	f2 := tl.CreateFence()

	assert.False(t, f1.Signaled())
	tl.Advance(f1.SeqNo)
	assert.True(t, f1.Signaled())
	assert.False(t, f2.Signaled())

	tl.Advance(f2.SeqNo)
	assert.True(t, f2.Signaled())
}

func TestSoftTimelineWaitUnblocksOnAdvance(t *testing.T) {
	tl := composition.NewSoftTimeline()
	f := tl.CreateFence()

	go func() {
		time.Sleep(10 * time.Millisecond)
		tl.Advance(f.SeqNo)
	}()

	require.NoError(t, f.Wait(context.Background(), time.Second))
}

func TestSoftTimelineWaitTimesOut(t *testing.T) {
	tl := composition.NewSoftTimeline()
	f := tl.CreateFence()

	err := f.Wait(context.Background(), 10*time.Millisecond)
	assert.Error(t, err)
}

func TestSoftTimelineWaitDoesNotLeakGoroutineOnTimeout(t *testing.T) {
	tl := composition.NewSoftTimeline()
	f := tl.CreateFence() // never advanced

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		_ = f.Wait(context.Background(), time.Millisecond)
	}

	// the waiter goroutines park on cond.Wait() until woken; give them a
	// moment to observe stop being closed and exit.
	var after int
	for i := 0; i < 50; i++ {
		time.Sleep(2 * time.Millisecond)
		after = runtime.NumGoroutine()
		if after <= before {
			break
		}
	}
	assert.LessOrEqual(t, after, before, "waiter goroutines should exit once their Wait call returns")
}

func TestSoftTimelineWaitDoesNotLeakGoroutineOnCancel(t *testing.T) {
	tl := composition.NewSoftTimeline()
	f := tl.CreateFence() // never advanced

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Wait(ctx, time.Hour)
	assert.Error(t, err)

	var after int
	for i := 0; i < 50; i++ {
		time.Sleep(2 * time.Millisecond)
		after = runtime.NumGoroutine()
		if after <= before {
			break
		}
	}
	assert.LessOrEqual(t, after, before, "waiter goroutine should exit once ctx is canceled")
}

func TestCompositionLifecycle(t *testing.T) {
	c := composition.NewEmpty(0)
	assert.Equal(t, composition.Empty, c.State())

	require.NoError(t, c.SetLayers([]composition.Layer{{LayerIndex: 0, PlaneID: 1}}))
	assert.Equal(t, composition.Frame, c.State())

	c.SignalPreCompositionDone()
	assert.True(t, c.PreCompositionDone())

	tl := composition.NewSoftTimeline()
	f := tl.CreateFence()
	c.SignalCompositionDone(f)
	assert.True(t, c.CompositionDone())

	got, ok := c.TakeOutFence()
	require.True(t, ok)
	assert.Equal(t, f.SeqNo, got.SeqNo)

	_, ok = c.TakeOutFence()
	assert.False(t, ok, "the release fence can only be taken once")
}

func TestDPMSRejectsLayers(t *testing.T) {
	c := composition.NewEmpty(0)
	require.NoError(t, c.SetLayers([]composition.Layer{{LayerIndex: 0}}))
	assert.Error(t, c.SetDPMS(true))
}
