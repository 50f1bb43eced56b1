package compositor

import (
	"context"
	"fmt"

	"github.com/helixml/drmhwc/api/pkg/kms/composition"
	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
)

// PreCompositorInput is the set of layers the planner could not place
// on hardware planes, bottom layer first.
type PreCompositorInput struct {
	DisplayIndex int
	Layers       []composition.Layer
	Width, Height uint32
}

// PreCompositorOutput is the squashed result: a single framebuffer
// covering the unplaced layers, ready to bind to the primary plane (or
// a dedicated squash plane) alongside whatever hardware placements
// remain.
type PreCompositorOutput struct {
	FBID         uint32
	AcquireFence composition.Fence
	HasAcquireFence bool
}

// PreCompositor renders unplaced layers into one buffer. The EGL/GLES
// renderer that actually does this is an external collaborator (out of
// scope); this interface is the seam the compositor worker calls
// through, so it can run against a fake in tests and be wired to a
// real renderer in the daemon's composition root.
type PreCompositor interface {
	Composite(ctx context.Context, in PreCompositorInput) (PreCompositorOutput, error)
}

// NullPreCompositor always fails; wiring it means "this build has no
// GPU fallback", which is a valid configuration on display-only
// targets where the planner is expected to place everything on
// hardware planes.
type NullPreCompositor struct{}

func (NullPreCompositor) Composite(ctx context.Context, in PreCompositorInput) (PreCompositorOutput, error) {
	return PreCompositorOutput{}, kmserrors.New(kmserrors.KindNoResources, "NullPreCompositor.Composite", fmt.Errorf("no GPU pre-compositor configured, %d layers needed flattening", len(in.Layers)))
}

// FakePreCompositor is a deterministic PreCompositor for tests: it
// records every call and returns a canned fb id and fence.
type FakePreCompositor struct {
	FBID  uint32
	Err   error
	Calls []PreCompositorInput
}

func (f *FakePreCompositor) Composite(ctx context.Context, in PreCompositorInput) (PreCompositorOutput, error) {
	f.Calls = append(f.Calls, in)
	if f.Err != nil {
		return PreCompositorOutput{}, f.Err
	}
	return PreCompositorOutput{FBID: f.FBID}, nil
}
