// Package importer turns a layer's graphics buffer (a dma-buf/prime fd
// plus per-plane strides) into the GEM handles a framebuffer needs,
// translating allocator-specific format/modifier quirks along the way.
package importer

import (
	"fmt"

	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// Buffer describes one client-side graphics buffer to import: a single
// dma-buf fd shared across up to 4 planes (typical for multi-planar
// YUV), with per-plane byte offsets and strides.
type Buffer struct {
	PrimeFD  int32
	Width, Height uint32
	Format   types.FourCC
	Modifier types.Modifier
	NumPlanes int
	Offsets  [4]uint32
	Pitches  [4]uint32
}

// Imported is the result of a successful import: GEM handles ready to
// pass to ADDFB2, and how many planes they cover.
type Imported struct {
	Handles [4]uint32
	NumPlanes int
}

// PrimeFDToHandleFunc performs the PRIME_FD_TO_HANDLE ioctl.
type PrimeFDToHandleFunc func(primeFD int32) (uint32, error)

// GemCloseFunc performs the GEM_CLOSE ioctl.
type GemCloseFunc func(handle uint32) error

// Importer turns Buffers into GEM handles, and back.
type Importer interface {
	// CanImportBuffer reports whether this importer knows how to
	// handle b's format/modifier combination, without doing any ioctl.
	CanImportBuffer(b Buffer) bool
	ImportBuffer(b Buffer) (Imported, error)
	ReleaseBuffer(i Imported) error
}

// genericImporter handles linear and Intel Y-tiled
// buffers by importing the one shared dma-buf fd once and reusing the
// resulting handle for every plane (spec's "closed" importer: it only
// recognizes formats it was built to handle, and refuses everything
// else rather than guessing).
type genericImporter struct {
	primeFDToHandle PrimeFDToHandleFunc
	gemClose        GemCloseFunc
}

// NewGeneric returns the default importer, suitable for any allocator
// that shares one dma-buf across all planes of a buffer (the common
// case for linear and Intel-tiled allocations).
func NewGeneric(primeFDToHandle PrimeFDToHandleFunc, gemClose GemCloseFunc) Importer {
	return &genericImporter{primeFDToHandle: primeFDToHandle, gemClose: gemClose}
}

func (g *genericImporter) CanImportBuffer(b Buffer) bool {
	switch b.Modifier {
	case types.ModifierLinear, types.ModifierIntelYTiled:
		return true
	default:
		return false
	}
}

func (g *genericImporter) ImportBuffer(b Buffer) (Imported, error) {
	if !g.CanImportBuffer(b) {
		return Imported{}, kmserrors.New(kmserrors.KindBadParameter, "generic.ImportBuffer", fmt.Errorf("unsupported modifier %#x", uint64(b.Modifier)))
	}
	handle, err := g.primeFDToHandle(b.PrimeFD)
	if err != nil {
		return Imported{}, kmserrors.New(kmserrors.KindNoResources, "generic.ImportBuffer", err)
	}
	numPlanes := b.NumPlanes
	if numPlanes == 0 {
		numPlanes = 1
	}
	var out Imported
	out.NumPlanes = numPlanes
	for i := 0; i < numPlanes; i++ {
		out.Handles[i] = handle
	}
	return out, nil
}

func (g *genericImporter) ReleaseBuffer(i Imported) error {
	return closeHandles(g.gemClose, i, "generic.ReleaseBuffer")
}

// closeHandles calls gemClose once per distinct non-zero handle among
// i.Handles[:i.NumPlanes]. Every importer in this package shares this
// logic so that Chain.ReleaseBuffer can delegate to any one of them
// regardless of which importer actually produced i.
func closeHandles(gemClose GemCloseFunc, i Imported, op string) error {
	seen := make(map[uint32]bool, i.NumPlanes)
	for p := 0; p < i.NumPlanes; p++ {
		h := i.Handles[p]
		if h == 0 || seen[h] {
			continue
		}
		seen[h] = true
		if err := gemClose(h); err != nil {
			return kmserrors.New(kmserrors.KindNoResources, op, err)
		}
	}
	return nil
}

// minigbmImporter handles minigbm's YVU420_ANDROID convention, where a
// single allocation is shared by three logical planes (Y, V, U) at
// different byte offsets within the same dma-buf; like genericImporter
// it imports one handle and fans it out, but only recognizes that one
// three-plane YUV420 layout.
type minigbmImporter struct {
	primeFDToHandle PrimeFDToHandleFunc
	gemClose        GemCloseFunc
}

// NewMinigbm returns an importer for minigbm's Android YV12 buffers.
func NewMinigbm(primeFDToHandle PrimeFDToHandleFunc, gemClose GemCloseFunc) Importer {
	return &minigbmImporter{primeFDToHandle: primeFDToHandle, gemClose: gemClose}
}

func (m *minigbmImporter) CanImportBuffer(b Buffer) bool {
	return b.Format == types.FourCCYVU420Android && b.NumPlanes == 3
}

func (m *minigbmImporter) ImportBuffer(b Buffer) (Imported, error) {
	if !m.CanImportBuffer(b) {
		return Imported{}, kmserrors.New(kmserrors.KindBadParameter, "minigbm.ImportBuffer", fmt.Errorf("not a minigbm YVU420_ANDROID buffer"))
	}
	handle, err := m.primeFDToHandle(b.PrimeFD)
	if err != nil {
		return Imported{}, kmserrors.New(kmserrors.KindNoResources, "minigbm.ImportBuffer", err)
	}
	return Imported{Handles: [4]uint32{handle, handle, handle}, NumPlanes: 3}, nil
}

func (m *minigbmImporter) ReleaseBuffer(i Imported) error {
	return closeHandles(m.gemClose, i, "minigbm.ReleaseBuffer")
}

// nvidiaImporter handles NVIDIA's block-linear NV12 layout, which
// splits luma and chroma across two distinct dma-buf fds rather than
// one shared allocation with offsets.
type nvidiaImporter struct {
	primeFDToHandle PrimeFDToHandleFunc
	gemClose        GemCloseFunc
	chromaFD        func(b Buffer) (int32, bool)
}

// NewNVIDIA returns an importer for NVIDIA's two-fd NV12 buffers.
// chromaFD extracts the second plane's fd from whatever side-channel
// the caller's buffer handle carries it in (outside this package's
// concern: the Buffer type only models the common single-fd case).
func NewNVIDIA(primeFDToHandle PrimeFDToHandleFunc, gemClose GemCloseFunc, chromaFD func(b Buffer) (int32, bool)) Importer {
	return &nvidiaImporter{primeFDToHandle: primeFDToHandle, gemClose: gemClose, chromaFD: chromaFD}
}

func (n *nvidiaImporter) CanImportBuffer(b Buffer) bool {
	if b.Format != types.FourCCNV12 {
		return false
	}
	_, ok := n.chromaFD(b)
	return ok
}

func (n *nvidiaImporter) ImportBuffer(b Buffer) (Imported, error) {
	chromaFD, ok := n.chromaFD(b)
	if !ok {
		return Imported{}, kmserrors.New(kmserrors.KindBadParameter, "nvidia.ImportBuffer", fmt.Errorf("no chroma plane fd"))
	}
	lumaHandle, err := n.primeFDToHandle(b.PrimeFD)
	if err != nil {
		return Imported{}, kmserrors.New(kmserrors.KindNoResources, "nvidia.ImportBuffer", err)
	}
	chromaHandle, err := n.primeFDToHandle(chromaFD)
	if err != nil {
		_ = n.gemClose(lumaHandle)
		return Imported{}, kmserrors.New(kmserrors.KindNoResources, "nvidia.ImportBuffer", err)
	}
	return Imported{Handles: [4]uint32{lumaHandle, chromaHandle}, NumPlanes: 2}, nil
}

func (n *nvidiaImporter) ReleaseBuffer(i Imported) error {
	return closeHandles(n.gemClose, i, "nvidia.ReleaseBuffer")
}

// hisiImporter handles HiSilicon's AFBC-compressed single-plane
// formats; structurally identical to genericImporter's single-handle
// fan-out, kept as a distinct type because AFBC buffers carry a
// different, vendor-specific modifier space that a generic importer
// must not claim to understand.
type hisiImporter struct {
	primeFDToHandle PrimeFDToHandleFunc
	gemClose        GemCloseFunc
	afbcModifiers   map[types.Modifier]bool
}

// NewHisi returns an importer recognizing the given set of HiSilicon
// AFBC modifiers.
func NewHisi(primeFDToHandle PrimeFDToHandleFunc, gemClose GemCloseFunc, afbcModifiers []types.Modifier) Importer {
	set := make(map[types.Modifier]bool, len(afbcModifiers))
	for _, m := range afbcModifiers {
		set[m] = true
	}
	return &hisiImporter{primeFDToHandle: primeFDToHandle, gemClose: gemClose, afbcModifiers: set}
}

func (h *hisiImporter) CanImportBuffer(b Buffer) bool { return h.afbcModifiers[b.Modifier] }

func (h *hisiImporter) ImportBuffer(b Buffer) (Imported, error) {
	if !h.CanImportBuffer(b) {
		return Imported{}, kmserrors.New(kmserrors.KindBadParameter, "hisi.ImportBuffer", fmt.Errorf("unrecognized AFBC modifier %#x", uint64(b.Modifier)))
	}
	handle, err := h.primeFDToHandle(b.PrimeFD)
	if err != nil {
		return Imported{}, kmserrors.New(kmserrors.KindNoResources, "hisi.ImportBuffer", err)
	}
	return Imported{Handles: [4]uint32{handle}, NumPlanes: 1}, nil
}

func (h *hisiImporter) ReleaseBuffer(i Imported) error {
	return closeHandles(h.gemClose, i, "hisi.ReleaseBuffer")
}

// Chain tries each importer in order and uses the first that claims
// CanImportBuffer, against a closed set of known allocators the
// resourcemgr selects from.
type Chain struct {
	importers []Importer
}

// NewChain builds a Chain trying importers in the given priority order.
func NewChain(importers ...Importer) *Chain {
	return &Chain{importers: importers}
}

func (c *Chain) pick(b Buffer) (Importer, error) {
	for _, imp := range c.importers {
		if imp.CanImportBuffer(b) {
			return imp, nil
		}
	}
	return nil, kmserrors.New(kmserrors.KindBadParameter, "importer.Chain", fmt.Errorf("no importer can handle format %#x modifier %#x", uint32(b.Format), uint64(b.Modifier)))
}

func (c *Chain) CanImportBuffer(b Buffer) bool {
	_, err := c.pick(b)
	return err == nil
}

func (c *Chain) ImportBuffer(b Buffer) (Imported, error) {
	imp, err := c.pick(b)
	if err != nil {
		return Imported{}, err
	}
	return imp.ImportBuffer(b)
}

// ReleaseBuffer releases through whichever importer owns handle
// layouts matching i; since Release is a pure GEM_CLOSE fan-out here,
// any chain member's ReleaseBuffer is equivalent, so the first one is used.
func (c *Chain) ReleaseBuffer(i Imported) error {
	if len(c.importers) == 0 {
		return nil
	}
	return c.importers[0].ReleaseBuffer(i)
}
