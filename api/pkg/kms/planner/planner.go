// Package planner decides which layers can be scanned out directly on
// hardware planes and which must fall back to GPU pre-composition.
// It never touches the kernel: Plan is pure given a
// snapshot of available planes and the frame's layers.
package planner

import (
	"sort"

	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// PlaneCaps is the static capability set of one hardware plane, as
// reported by the device layer.
type PlaneCaps struct {
	ID            uint32
	Type          types.PlaneType
	Formats       map[types.FourCC]bool
	HasRotation   bool
	RotationEnum  map[string]uint64
	HasBlendMode  bool
	BlendEnum     map[string]uint64
	HasAlpha      bool
	HasZpos       bool
	ImmutableZpos bool
}

// Layer is the planner's view of one frame layer: only the fields a
// placement decision actually depends on.
type Layer struct {
	Index     int // original z-order index, lowest first
	Type      types.LayerType
	Format    types.FourCC
	Transform types.Transform
	Blending  types.Blending
	HasAlpha  bool
}

// Assignment says layer LayerIndex went to plane PlaneID. Layers that
// no stage placed get no Assignment; they are listed in Plan.Unplaced.
type Assignment struct {
	LayerIndex int
	PlaneID    uint32
}

// Plan is the outcome of running every PlanStage over one frame.
type Plan struct {
	Assignments []Assignment
	// Unplaced are the layer indices that no stage could place; the
	// caller must pre-composite these and feed the squashed result in
	// on a free overlay plane, or on the primary plane if none is free.
	Unplaced []int
}

// PlanStage tries to extend a partial Plan with more placements; it
// keeps no state of its own between calls and never modifies layers or
// planes, since the planner may be asked to retry-without-commit.
type PlanStage interface {
	// Apply assigns as many of the still-unplaced layers to the
	// still-free planes as it can, recording each placement in placed
	// and usedPlanes, which it updates in place.
	Apply(layers []Layer, planes []PlaneCaps, placed map[int]uint32, usedPlanes map[uint32]bool)
}

// Planner runs an ordered list of stages over a frame.
type Planner struct {
	stages []PlanStage
}

// New builds a Planner running stages in order. The order matters:
// earlier stages get first pick of planes.
func New(stages ...PlanStage) *Planner {
	return &Planner{stages: stages}
}

// Default returns the planner's standard stage order: protected
// content first (it cannot ever be composited by the GPU), then a
// greedy first-fit pass over everything else.
func Default() *Planner {
	return New(&ProtectedStage{}, &GreedyStage{})
}

// Plan assigns layers to planes. Layers must already be in ascending
// z-order (Index 0 is the bottom-most layer); planes need not be sorted.
func (p *Planner) Plan(layers []Layer, planes []PlaneCaps) Plan {
	placed := make(map[int]uint32, len(layers))
	usedPlanes := make(map[uint32]bool, len(planes))

	for _, stage := range p.stages {
		stage.Apply(layers, planes, placed, usedPlanes)
	}

	plan := Plan{}
	for _, l := range layers {
		if planeID, ok := placed[l.Index]; ok {
			plan.Assignments = append(plan.Assignments, Assignment{LayerIndex: l.Index, PlaneID: planeID})
		} else {
			plan.Unplaced = append(plan.Unplaced, l.Index)
		}
	}
	return plan
}

// CanPlaneShowLayer checks a plane's validation rules against a layer:
// format support, rotation/blend enum membership, and the cursor
// special case of collapsing to ARGB8888.
func CanPlaneShowLayer(p PlaneCaps, l Layer) bool {
	format := l.Format
	if l.Type == types.LayerCursor {
		format = types.FourCCARGB8888
	}
	if !p.Formats[format] {
		return false
	}
	if l.Type == types.LayerProtected && p.ImmutableZpos {
		// an immutable-zpos plane cannot be reordered to sit above
		// whatever protected content requires; the protected stage
		// only uses planes it can freely reorder.
		return false
	}
	if l.Transform != types.TransformIdentity && !p.HasRotation {
		return false
	}
	if l.Transform != types.TransformIdentity && !rotationSupported(p, l.Transform) {
		return false
	}
	if needsBlendMode(l) && !p.HasBlendMode {
		return false
	}
	if needsBlendMode(l) && p.BlendEnum != nil {
		name := "Coverage"
		if l.Blending == types.BlendingPremult {
			name = "Pre-multiplied"
		}
		if _, ok := p.BlendEnum[name]; !ok {
			return false
		}
	}
	return true
}

func rotationSupported(p PlaneCaps, t types.Transform) bool {
	if p.RotationEnum == nil {
		return true // plane has generic rotation support with no enumerated restriction
	}
	name := rotationEnumName(t)
	_, ok := p.RotationEnum[name]
	return ok
}

func rotationEnumName(t types.Transform) string {
	switch t {
	case types.TransformFlipH:
		return "reflect-x"
	case types.TransformFlipV:
		return "reflect-y"
	case types.TransformRotate90:
		return "rotate-90"
	case types.TransformRotate180:
		return "rotate-180"
	case types.TransformRotate270:
		return "rotate-270"
	default:
		return "rotate-0"
	}
}

func needsBlendMode(l Layer) bool {
	return l.Blending == types.BlendingCoverage || l.Blending == types.BlendingPremult
}

// ProtectedStage places LayerProtected layers first, on any plane that
// can show them, since protected content must never be routed through
// the GPU pre-compositor.
type ProtectedStage struct{}

func (s *ProtectedStage) Apply(layers []Layer, planes []PlaneCaps, placed map[int]uint32, usedPlanes map[uint32]bool) {
	for _, l := range layers {
		if l.Type != types.LayerProtected {
			continue
		}
		if _, ok := placed[l.Index]; ok {
			continue
		}
		for _, p := range planes {
			if usedPlanes[p.ID] {
				continue
			}
			if CanPlaneShowLayer(p, l) {
				placed[l.Index] = p.ID
				usedPlanes[p.ID] = true
				break
			}
		}
	}
}

// GreedyStage assigns remaining layers to remaining planes in z-order,
// bottom-most layer first:
// cursor layers prefer a cursor plane, everything else prefers
// primary/overlay planes in ascending plane-id order, which keeps
// plane assignment deterministic across identical frames: planning is
// stateless and must reach the same result for the same input.
type GreedyStage struct{}

func (s *GreedyStage) Apply(layers []Layer, planes []PlaneCaps, placed map[int]uint32, usedPlanes map[uint32]bool) {
	sorted := append([]PlaneCaps{}, planes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, l := range layers {
		if _, ok := placed[l.Index]; ok {
			continue
		}
		for _, p := range sorted {
			if usedPlanes[p.ID] {
				continue
			}
			if l.Type == types.LayerCursor && p.Type != types.PlaneCursor {
				continue
			}
			if l.Type != types.LayerCursor && p.Type == types.PlaneCursor {
				continue
			}
			if !CanPlaneShowLayer(p, l) {
				continue
			}
			placed[l.Index] = p.ID
			usedPlanes[p.ID] = true
			break
		}
	}
}
