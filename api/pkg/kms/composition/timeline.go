package composition

import (
	"context"
	"sync"
	"time"

	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
)

// Fence is a point on a SoftTimeline: Wait blocks until the timeline's
// counter reaches or passes SeqNo.
type Fence struct {
	timeline *SoftTimeline
	SeqNo    uint64
}

// Signaled reports whether the fence has already been reached.
func (f Fence) Signaled() bool {
	return f.timeline.current() >= f.SeqNo
}

// Wait blocks until the fence is signaled, ctx is canceled, or timeout
// elapses (timeout <= 0 waits forever).
func (f Fence) Wait(ctx context.Context, timeout time.Duration) error {
	return f.timeline.wait(ctx, f.SeqNo, timeout)
}

// SoftTimeline is a monotonically increasing software fence timeline,
// standing in for the kernel's sw_sync when no hardware release-fence
// source is available: no SW_SYNC ioctls, just an in-process monotonic
// counter with waiters parked on a condition variable.
type SoftTimeline struct {
	mu      sync.Mutex
	cond    *sync.Cond
	counter uint64
	next    uint64
}

// NewSoftTimeline returns a timeline starting at sequence 0.
func NewSoftTimeline() *SoftTimeline {
	t := &SoftTimeline{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// CreateFence allocates the next sequence number and returns a Fence
// for it; the timeline must later Advance to at least that number for
// the fence to signal.
func (t *SoftTimeline) CreateFence() Fence {
	t.mu.Lock()
	t.next++
	seq := t.next
	t.mu.Unlock()
	return Fence{timeline: t, SeqNo: seq}
}

// Advance bumps the timeline's current counter to n if n is higher
// than the current value, waking any waiters whose fence now signals.
// Advancing backwards is a no-op (sequence numbers never regress).
func (t *SoftTimeline) Advance(n uint64) {
	t.mu.Lock()
	if n > t.counter {
		t.counter = n
	}
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *SoftTimeline) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counter
}

func (t *SoftTimeline) wait(ctx context.Context, seq uint64, timeout time.Duration) error {
	done := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		t.mu.Lock()
		for t.counter < seq {
			select {
			case <-stop:
				t.mu.Unlock()
				return
			default:
			}
			t.cond.Wait()
		}
		t.mu.Unlock()
		close(done)
	}()

	// Whichever way this call returns, wake the waiter goroutine above
	// so it can observe stop and exit instead of blocking on cond.Wait
	// forever when the fence never signals.
	defer func() {
		// close stop under t.mu so the close cannot fall between the
		// waiter's stop check and its cond.Wait, which would lose the
		// Broadcast below.
		t.mu.Lock()
		close(stop)
		t.mu.Unlock()
		t.cond.Broadcast()
	}()

	if timeout <= 0 {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return kmserrors.New(kmserrors.KindInterrupted, "SoftTimeline.Wait", ctx.Err())
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return kmserrors.New(kmserrors.KindInterrupted, "SoftTimeline.Wait", ctx.Err())
	case <-time.After(timeout):
		return kmserrors.New(kmserrors.KindTimeout, "SoftTimeline.Wait", nil)
	}
}
