package hwc

import (
	"github.com/helixml/drmhwc/api/pkg/kms/composition"
	"github.com/helixml/drmhwc/api/pkg/kms/fb"
	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// LayerID identifies a layer within one display's client-managed set,
// analogous to an hwc2_layer_t handle.
type LayerID uint64

// LayerState is everything a client can set on a layer between one
// Present and the next.
type LayerState struct {
	Type         types.LayerType
	Buffer       importer.Buffer
	PrimeFD      int32
	AcquireFence composition.Fence
	HasAcquireFence bool
	DisplayFrame types.Rect
	SourceCrop   types.FRect
	Transform    types.Transform
	Blending     types.Blending
	Alpha        uint16
	ZOrder       uint32
	Dataspace    types.Dataspace

	// RequestedType is the composition type last requested for this
	// layer (via SetLayerCompositionType); it defaults to Device, as a
	// freshly created layer has nothing yet forcing it to Client.
	RequestedType types.CompositionType
	// ValidatedType is what Validate actually decided for this layer on
	// its last run; CompositionInvalid until the first Validate.
	ValidatedType types.CompositionType

	imported   importer.Imported
	hasImport  bool

	// fbID/fbKey/hasFBKey track the cached framebuffer this layer's
	// previous buffer holds a reference on, so it can be released when
	// the buffer is replaced or the layer destroyed.
	fbID     uint32
	fbKey    fb.Key
	hasFBKey bool
}
