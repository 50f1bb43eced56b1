// Package composition models one frame's work-in-progress state: the
// layers assigned to it, whether it's a plain frame, a dpms change, or
// a modeset, and the fences that gate when it may be shown.
package composition

import (
	"fmt"

	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// State is where a composition sits in its lifecycle.
type State int

const (
	// Empty has no layers and no pending kind assigned yet.
	Empty State = iota
	// Frame carries layers to scan out on this display's planes.
	Frame
	// Dpms carries only a power-state change.
	Dpms
	// Modeset carries a mode change, with or without layers.
	Modeset
)

func (s State) String() string {
	switch s {
	case Frame:
		return "Frame"
	case Dpms:
		return "Dpms"
	case Modeset:
		return "Modeset"
	default:
		return "Empty"
	}
}

// Layer is the composition's resolved view of a frame layer: plane
// geometry is already final, with no further validation pending.
type Layer struct {
	LayerIndex int
	PlaneID    uint32 // 0 if this layer is flattened into PreComposited
	FBID       uint32
	DisplayFrame types.Rect
	SourceCrop   types.FRect
	Transform    types.Transform
	Blending     types.Blending
	Alpha        uint16
	Zpos         uint32
	AcquireFence Fence
	HasAcquireFence bool
}

// DrmDisplayComposition is one outstanding unit of work for a display:
// a batch of layer placements (and/or a dpms/mode change) queued to be
// applied in a single atomic commit.
type DrmDisplayComposition struct {
	DisplayIndex int
	state        State

	Layers []Layer

	// PreComposited, when non-nil, is the GPU-flattened replacement for
	// every layer the planner could not place on hardware, shown on a
	// free overlay plane, or on the primary plane when no overlay is free.
	PreComposited *Layer

	DPMSOn bool

	ModeID      int
	ModeBlobID  uint32

	preCompositionDone bool
	compositionDone    bool

	releaseFence Fence
	hasRelease   bool
}

// NewEmpty returns a fresh composition for displayIdx with no pending work.
func NewEmpty(displayIdx int) *DrmDisplayComposition {
	return &DrmDisplayComposition{DisplayIndex: displayIdx, state: Empty}
}

// SetLayers assigns the layer list and moves the composition into the
// Frame state, failing if it already carries a dpms-only change (a
// composition can be Frame+Modeset together, but never Frame+Dpms).
func (c *DrmDisplayComposition) SetLayers(layers []Layer) error {
	if c.state == Dpms {
		return kmserrors.New(kmserrors.KindBadConfig, "SetLayers", fmt.Errorf("composition already committed to a dpms-only change"))
	}
	c.Layers = layers
	if c.state == Empty {
		c.state = Frame
	}
	return nil
}

// SetModeset marks the composition as changing the active mode,
// composable with a pending Frame.
func (c *DrmDisplayComposition) SetModeset(modeID int, blobID uint32) {
	c.ModeID = modeID
	c.ModeBlobID = blobID
	c.state = Modeset // Modeset implies any already-set layers still apply in the same commit
}

// SetDPMS marks the composition as a pure power-state change; it must
// not carry layers.
func (c *DrmDisplayComposition) SetDPMS(on bool) error {
	if len(c.Layers) > 0 {
		return kmserrors.New(kmserrors.KindBadConfig, "SetDPMS", fmt.Errorf("cannot combine a dpms change with layers"))
	}
	c.DPMSOn = on
	c.state = Dpms
	return nil
}

// State reports the composition's current kind.
func (c *DrmDisplayComposition) State() State { return c.state }

// SignalPreCompositionDone marks that the GPU pre-compositor, if one
// ran for this frame, has finished producing PreComposited.
func (c *DrmDisplayComposition) SignalPreCompositionDone() { c.preCompositionDone = true }

// PreCompositionDone reports whether pre-composition (if needed) is done.
func (c *DrmDisplayComposition) PreCompositionDone() bool {
	return c.PreComposited == nil || c.preCompositionDone
}

// SignalCompositionDone marks the atomic commit as applied and
// attaches the given fence as this composition's release fence.
func (c *DrmDisplayComposition) SignalCompositionDone(release Fence) {
	c.compositionDone = true
	c.releaseFence = release
	c.hasRelease = true
}

// CompositionDone reports whether the commit has been applied.
func (c *DrmDisplayComposition) CompositionDone() bool { return c.compositionDone }

// TakeOutFence returns the release fence produced by the commit this
// composition applied, consuming it so it can only be taken once.
func (c *DrmDisplayComposition) TakeOutFence() (Fence, bool) {
	if !c.hasRelease {
		return Fence{}, false
	}
	c.hasRelease = false
	return c.releaseFence, true
}
