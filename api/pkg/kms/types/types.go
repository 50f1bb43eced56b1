// Package types holds the value types shared by the kms leaf packages
// (device, fb, planner, composition, hwc) so none of them needs to
// import another to describe a layer or a rectangle.
package types

import "fmt"

// Rect is an integer display-frame rectangle; float source crops use
// FRect below.
type Rect struct {
	Left, Top, Right, Bottom int32
}

func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// FRect is a float source-crop rectangle, in pixels.
type FRect struct {
	Left, Top, Right, Bottom float32
}

func (r FRect) Width() float32  { return r.Right - r.Left }
func (r FRect) Height() float32 { return r.Bottom - r.Top }

// Fixed1616 converts r to the 16.16 fixed-point format KMS SRC_* plane
// properties require.
func (r FRect) Fixed1616() Rect {
	const shift = 1 << 16
	return Rect{
		Left:   int32(r.Left * shift),
		Top:    int32(r.Top * shift),
		Right:  int32(r.Right * shift),
		Bottom: int32(r.Bottom * shift),
	}
}

// Transform is a bitmask of buffer transforms applied to a layer before
// scanout/composition.
type Transform uint32

const (
	TransformIdentity Transform = 0
	TransformFlipH    Transform = 1 << 0
	TransformFlipV    Transform = 1 << 1
	TransformRotate90 Transform = 1 << 2
	TransformRotate180 Transform = TransformFlipH | TransformFlipV
	TransformRotate270 Transform = TransformRotate90 | TransformRotate180
)

// Blending is the layer's alpha-compositing mode.
type Blending int

const (
	BlendingNone Blending = iota
	BlendingPremult
	BlendingCoverage
)

// LayerType classifies a layer for planner and fast-path decisions.
type LayerType int

const (
	LayerNormal LayerType = iota
	LayerCursor
	LayerProtected
	LayerVideo
	LayerSolidColor
)

// CompositionType is a layer's composition destination: scanned out
// directly on a plane (Device) or handed back to the client to
// render into the client-target buffer (Client). Validate negotiates
// this per layer; it is distinct from LayerType, which classifies
// layer content rather than where it ends up composited.
type CompositionType int

const (
	CompositionInvalid CompositionType = iota
	CompositionDevice
	CompositionClient
)

// Dataspace is an opaque dataspace id (colorimetry/range/transfer),
// carried through unchanged; the core never interprets it.
type Dataspace uint32

// PlaneType is the hardware role of a KMS plane.
type PlaneType int

const (
	PlanePrimary PlaneType = iota
	PlaneOverlay
	PlaneCursor
)

// ConnectorType classifies a connector for display-pipe routing.
type ConnectorType int

const (
	ConnectorInternal ConnectorType = iota
	ConnectorExternal
	ConnectorWriteback
)

// ConnectionState mirrors the kernel's drm_mode_get_connector status.
type ConnectionState int

const (
	ConnectionUnknown ConnectionState = iota
	ConnectionConnected
	ConnectionDisconnected
)

// FourCC is a DRM fourcc pixel format code.
type FourCC uint32

// Well-known formats the planner/importer reason about explicitly.
const (
	FourCCXRGB8888 FourCC = 0x34325258 // "XR24"
	FourCCARGB8888 FourCC = 0x34325241 // "AR24"
	FourCCNV12     FourCC = 0x3231564e // "NV12"
	FourCCYVU420Android FourCC = 0x32315659 // "YV12" (minigbm's YVU420_ANDROID shares this fourcc)
)

// Modifier is a DRM format modifier (tiling/compression layout).
type Modifier uint64

const (
	ModifierLinear     Modifier = 0
	ModifierIntelYTiled Modifier = 0x0100000000000002 // I915_FORMAT_MOD_Y_TILED
)
