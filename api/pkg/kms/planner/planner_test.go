package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixml/drmhwc/api/pkg/kms/planner"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

func formats(fs ...types.FourCC) map[types.FourCC]bool {
	m := make(map[types.FourCC]bool, len(fs))
	for _, f := range fs {
		m[f] = true
	}
	return m
}

func TestGreedyPlansDeterministically(t *testing.T) {
	planes := []planner.PlaneCaps{
		{ID: 2, Type: types.PlaneOverlay, Formats: formats(types.FourCCARGB8888)},
		{ID: 1, Type: types.PlanePrimary, Formats: formats(types.FourCCXRGB8888, types.FourCCARGB8888)},
		{ID: 3, Type: types.PlaneCursor, Formats: formats(types.FourCCARGB8888)},
	}
	layers := []planner.Layer{
		{Index: 0, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
		{Index: 1, Type: types.LayerNormal, Format: types.FourCCARGB8888},
		{Index: 2, Type: types.LayerCursor, Format: types.FourCCARGB8888},
	}

	p := planner.Default()
	plan1 := p.Plan(layers, planes)
	plan2 := p.Plan(layers, planes)

	assert.Equal(t, plan1, plan2, "planning the same frame twice must yield the same result")
	assert.Empty(t, plan1.Unplaced)

	byLayer := make(map[int]uint32)
	for _, a := range plan1.Assignments {
		byLayer[a.LayerIndex] = a.PlaneID
	}
	assert.Equal(t, uint32(3), byLayer[2], "cursor layer must land on the cursor plane")
}

func TestOverflowLayersFallBackToPrecomposition(t *testing.T) {
	planes := []planner.PlaneCaps{
		{ID: 1, Type: types.PlanePrimary, Formats: formats(types.FourCCXRGB8888)},
	}
	layers := []planner.Layer{
		{Index: 0, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
		{Index: 1, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
		{Index: 2, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
	}

	p := planner.Default()
	plan := p.Plan(layers, planes)

	assert.Len(t, plan.Assignments, 1)
	assert.Len(t, plan.Unplaced, 2)
}

func TestProtectedLayerAlwaysPlannedFirst(t *testing.T) {
	planes := []planner.PlaneCaps{
		{ID: 1, Type: types.PlanePrimary, Formats: formats(types.FourCCXRGB8888)},
		{ID: 2, Type: types.PlaneOverlay, Formats: formats(types.FourCCXRGB8888)},
	}
	layers := []planner.Layer{
		{Index: 0, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
		{Index: 1, Type: types.LayerProtected, Format: types.FourCCXRGB8888},
		{Index: 2, Type: types.LayerNormal, Format: types.FourCCXRGB8888},
	}

	p := planner.Default()
	plan := p.Plan(layers, planes)

	byLayer := make(map[int]uint32)
	for _, a := range plan.Assignments {
		byLayer[a.LayerIndex] = a.PlaneID
	}
	_, protectedPlaced := byLayer[1]
	assert.True(t, protectedPlaced, "protected content must never be left unplaced for GPU compositing")
}

func TestFormatMismatchRejectsPlane(t *testing.T) {
	plane := planner.PlaneCaps{ID: 1, Type: types.PlanePrimary, Formats: formats(types.FourCCXRGB8888)}
	layer := planner.Layer{Index: 0, Type: types.LayerNormal, Format: types.FourCCNV12}
	assert.False(t, planner.CanPlaneShowLayer(plane, layer))
}

func TestCursorLayerCollapsesToARGB(t *testing.T) {
	plane := planner.PlaneCaps{ID: 1, Type: types.PlaneCursor, Formats: formats(types.FourCCARGB8888)}
	layer := planner.Layer{Index: 0, Type: types.LayerCursor, Format: types.FourCCNV12}
	assert.True(t, planner.CanPlaneShowLayer(plane, layer), "cursor planes are validated against ARGB8888 regardless of the layer's nominal format")
}

func TestPremultBlendingRequiresBlendModeLikeCoverage(t *testing.T) {
	noBlend := planner.PlaneCaps{ID: 1, Type: types.PlaneOverlay, Formats: formats(types.FourCCARGB8888), HasBlendMode: false}
	withBlend := planner.PlaneCaps{ID: 1, Type: types.PlaneOverlay, Formats: formats(types.FourCCARGB8888), HasBlendMode: true}

	premult := planner.Layer{Index: 0, Type: types.LayerNormal, Format: types.FourCCARGB8888, Blending: types.BlendingPremult}
	coverage := planner.Layer{Index: 0, Type: types.LayerNormal, Format: types.FourCCARGB8888, Blending: types.BlendingCoverage}
	none := planner.Layer{Index: 0, Type: types.LayerNormal, Format: types.FourCCARGB8888, Blending: types.BlendingNone}

	assert.False(t, planner.CanPlaneShowLayer(noBlend, premult), "premultiplied layers need a blend mode property just like coverage layers")
	assert.False(t, planner.CanPlaneShowLayer(noBlend, coverage))
	assert.True(t, planner.CanPlaneShowLayer(noBlend, none), "opaque layers never need a blend mode property")

	assert.True(t, planner.CanPlaneShowLayer(withBlend, premult))
	assert.True(t, planner.CanPlaneShowLayer(withBlend, coverage))
}
