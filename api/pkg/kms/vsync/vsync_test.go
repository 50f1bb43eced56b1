package vsync_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/helixml/drmhwc/api/pkg/kms/vsync"
)

func TestWorkerTicksAtRefreshRate(t *testing.T) {
	var count int64
	w := vsync.New(0, 0, nil, func() uint32 { return 200 }, 0, func(seq uint64, ts time.Time) {
		atomic.AddInt64(&count, 1)
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.SetEnabled(ctx, true)
	defer w.SetEnabled(ctx, false)

	time.Sleep(60 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt64(&count), int64(5))
}

func TestWorkerUsesRealWaitWhenAvailable(t *testing.T) {
	var realCalls int64
	waitReal := func(highCrtc uint32) error {
		atomic.AddInt64(&realCalls, 1)
		return nil
	}
	w := vsync.New(0, 3, waitReal, func() uint32 { return 240 }, 0, func(uint64, time.Time) {}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.SetEnabled(ctx, true)
	defer w.SetEnabled(ctx, false)

	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt64(&realCalls), int64(0))
}

func TestSetEnabledIdempotent(t *testing.T) {
	w := vsync.New(0, 0, nil, func() uint32 { return 60 }, 0, func(uint64, time.Time) {}, zerolog.Nop())
	ctx := context.Background()
	w.SetEnabled(ctx, true)
	w.SetEnabled(ctx, true)
	assert.True(t, w.Enabled())
	w.SetEnabled(ctx, false)
	assert.False(t, w.Enabled())
}
