// Package vsync drives a per-display vblank signal: it prefers the
// kernel's real DRM_IOCTL_WAIT_VBLANK, and falls back to a phased
// synthetic timer derived from the display's refresh rate when the
// backend can't deliver real vblank events.
package vsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Callback is invoked once per vblank, with the monotonic sequence
// number and the timestamp the worker believes the vblank occurred at.
type Callback func(seq uint64, timestamp time.Time)

// WaitVBlankFunc issues the real wait-for-vblank ioctl; highCrtc
// encodes the crtc's pipe index in the kernel's packed format. A
// non-nil error means "use the synthetic fallback for this tick".
type WaitVBlankFunc func(highCrtc uint32) error

// Worker generates vblank callbacks for one display.
type Worker struct {
	displayIdx int
	highCrtc   uint32
	waitReal   WaitVBlankFunc
	refreshHz  func() uint32
	cb         Callback
	log        zerolog.Logger

	// phaseOffset staggers this display's synthetic ticks relative to
	// others so that multi-display configurations don't all wake up
	// (and contend for the compositor worker) at the exact same instant.
	phaseOffset time.Duration

	mu      sync.Mutex
	seq     uint64
	enabled bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a vsync Worker for one display. phaseIndex should be the
// display's index among all displays sharing a compositor process, and
// is used only to derive phaseOffset.
func New(displayIdx int, highCrtc uint32, waitReal WaitVBlankFunc, refreshHz func() uint32, phaseIndex int, cb Callback, log zerolog.Logger) *Worker {
	return &Worker{
		displayIdx:  displayIdx,
		highCrtc:    highCrtc,
		waitReal:    waitReal,
		refreshHz:   refreshHz,
		cb:          cb,
		log:         log.With().Int("display", displayIdx).Logger(),
		phaseOffset: phaseStagger(phaseIndex),
	}
}

func phaseStagger(phaseIndex int) time.Duration {
	const maxPhases = 8
	const stepMicros = 1200 // spread phases ~1.2ms apart, well under any plausible frame period
	return time.Duration(phaseIndex%maxPhases) * stepMicros * time.Microsecond
}

// SetEnabled starts or stops vblank generation. Calling it with the
// same state twice is a no-op.
func (w *Worker) SetEnabled(ctx context.Context, enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if enabled == w.enabled {
		return
	}
	w.enabled = enabled
	if !enabled {
		if w.cancel != nil {
			w.cancel()
			<-w.stopped
			w.cancel = nil
		}
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.run(runCtx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	if w.phaseOffset > 0 {
		select {
		case <-time.After(w.phaseOffset):
		case <-ctx.Done():
			return
		}
	}

	period := w.period()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
			if newPeriod := w.period(); newPeriod != period {
				period = newPeriod
				ticker.Reset(period)
			}
		}
	}
}

func (w *Worker) period() time.Duration {
	hz := w.refreshHz()
	if hz == 0 {
		hz = 60
	}
	return time.Second / time.Duration(hz)
}

func (w *Worker) tick() {
	if w.waitReal != nil {
		if err := w.waitReal(w.highCrtc); err != nil {
			w.log.Debug().Err(err).Msg("real vblank wait failed, using synthetic timestamp")
		}
	}
	now := time.Now()
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()
	w.cb(seq, now)
}

// Enabled reports whether this worker is currently generating ticks.
func (w *Worker) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}
