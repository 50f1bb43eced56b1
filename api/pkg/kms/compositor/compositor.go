// Package compositor drives one display's atomic commits: it turns a
// composition.DrmDisplayComposition into a single DRM_IOCTL_MODE_ATOMIC
// call, waiting on each layer's acquire fence first and falling back to
// a PreCompositor for anything the planner couldn't place on hardware.
package compositor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixml/drmhwc/api/pkg/kms/composition"
	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
	"github.com/helixml/drmhwc/api/pkg/queue"
)

const (
	// AtomicAllowModesetFlag mirrors DRM_MODE_ATOMIC_ALLOW_MODESET.
	AtomicAllowModesetFlag = 0x0400
	// AtomicNonblockFlag mirrors DRM_MODE_ATOMIC_NONBLOCK.
	AtomicNonblockFlag = 0x0200

	acquireFenceWaitAttempts = 5
	acquireFenceWaitStep     = 100 * time.Millisecond

	// FlattenCountdownInit is how many consecutive all-hardware frames
	// must pass before the compositor reconsiders dropping an idle
	// GPU-composited squash layer back onto hardware planes. Tracked as
	// a counter whose expiry is currently a no-op-safe hint; the
	// squash-plane release logic it would gate isn't implemented.
	FlattenCountdownInit = 60
)

// ApplyResult is what the worker goroutine returns for one queued composition.
type ApplyResult struct {
	Release composition.Fence
}

// DrmDisplayCompositor owns one display's worker goroutine and commits
// compositions to it serially, in submission order.
type DrmDisplayCompositor struct {
	dev          *device.Device
	displayIdx   int
	pre          PreCompositor
	timeline     *composition.SoftTimeline
	log          zerolog.Logger

	activePlanes map[uint32]bool
	flattenCountdown int

	worker *queue.Worker[*composition.DrmDisplayComposition, ApplyResult]
}

// New builds a compositor for dev's display displayIdx. pre is used
// whenever a frame has layers the planner could not place; pass
// NullPreCompositor{} if this build has no GPU fallback.
func New(ctx context.Context, dev *device.Device, displayIdx int, pre PreCompositor, log zerolog.Logger) *DrmDisplayCompositor {
	dc := &DrmDisplayCompositor{
		dev:          dev,
		displayIdx:   displayIdx,
		pre:          pre,
		timeline:     composition.NewSoftTimeline(),
		log:          log.With().Int("display", displayIdx).Logger(),
		activePlanes: make(map[uint32]bool),
		flattenCountdown: FlattenCountdownInit,
	}
	dc.worker = queue.New[*composition.DrmDisplayComposition, ApplyResult](ctx, dc.apply, nil, 0)
	return dc
}

// Composite queues comp for application and blocks until it has been
// committed (or rejected).
func (dc *DrmDisplayCompositor) Composite(comp *composition.DrmDisplayComposition, timeout time.Duration) (ApplyResult, error) {
	return dc.worker.QueueWork(comp, timeout)
}

// Exit stops the compositor's worker goroutine.
func (dc *DrmDisplayCompositor) Exit() { dc.worker.Exit() }

func (dc *DrmDisplayCompositor) apply(ctx context.Context, comp *composition.DrmDisplayComposition) (ApplyResult, error) {
	crtc, ok := dc.dev.Crtc(dc.displayIdx)
	if !ok {
		return ApplyResult{}, kmserrors.New(kmserrors.KindBadDisplay, "compositor.apply", fmt.Errorf("display %d has no crtc", dc.displayIdx))
	}

	if comp.State() == composition.Dpms {
		return dc.applyDPMS(crtc, comp)
	}

	primary, overlay, cursor := dc.dev.PlanesForCrtc(crtc.ID)
	allPlanes := append(append(append([]*device.Plane{}, primary...), overlay...), cursor...)
	planeByID := make(map[uint32]*device.Plane, len(allPlanes))
	for _, p := range allPlanes {
		planeByID[p.ID] = p
	}

	if err := dc.waitAcquireFences(ctx, comp.Layers); err != nil {
		return ApplyResult{}, err
	}

	var props []device.AtomicProp
	usedThisFrame := make(map[uint32]bool, len(comp.Layers))

	var unplaced []composition.Layer
	for _, l := range comp.Layers {
		if l.PlaneID == 0 {
			unplaced = append(unplaced, l)
			continue
		}
		p, ok := planeByID[l.PlaneID]
		if !ok {
			return ApplyResult{}, kmserrors.New(kmserrors.KindBadLayer, "compositor.apply", fmt.Errorf("layer %d assigned unknown plane %d", l.LayerIndex, l.PlaneID))
		}
		props = append(props, p.AtomicProps(device.PlaneGeometry{
			CrtcID: crtc.ID, FBID: l.FBID, Dst: l.DisplayFrame, Src: l.SourceCrop,
			Transform: l.Transform, Blending: l.Blending, Alpha: l.Alpha, Zpos: l.Zpos, HasZpos: true,
			InFenceFD: -1,
		})...)
		usedThisFrame[p.ID] = true
	}

	if len(unplaced) > 0 {
		out, err := dc.squash(ctx, crtc, overlay, primary, usedThisFrame, unplaced)
		if err != nil {
			return ApplyResult{}, err
		}
		props = append(props, out.props...)
		usedThisFrame[out.planeID] = true
		comp.PreComposited = &out.layer
		dc.flattenCountdown = FlattenCountdownInit
	} else if dc.flattenCountdown > 0 {
		dc.flattenCountdown--
	}
	comp.SignalPreCompositionDone()

	for _, p := range allPlanes {
		if dc.activePlanes[p.ID] && !usedThisFrame[p.ID] {
			props = append(props, p.DisablePlaneProps()...)
		}
	}
	dc.activePlanes = usedThisFrame

	flags := uint32(0)
	if comp.State() == composition.Modeset {
		props = append(props, crtc.ModeIDProp(comp.ModeBlobID))
		flags |= AtomicAllowModesetFlag
	}
	props = append(props, crtc.ActiveProps(true))

	if err := dc.dev.Backend().AtomicCommit(props, flags); err != nil {
		return ApplyResult{}, kmserrors.New(kmserrors.KindNoResources, "compositor.apply", err)
	}

	release := dc.timeline.CreateFence()
	dc.timeline.Advance(release.SeqNo)
	comp.SignalCompositionDone(release)

	return ApplyResult{Release: release}, nil
}

func (dc *DrmDisplayCompositor) applyDPMS(crtc *device.Crtc, comp *composition.DrmDisplayComposition) (ApplyResult, error) {
	conn, ok := dc.dev.Connector(dc.displayIdx)
	if !ok {
		return ApplyResult{}, kmserrors.New(kmserrors.KindBadDisplay, "compositor.applyDPMS", fmt.Errorf("display %d has no connector", dc.displayIdx))
	}
	props := []device.AtomicProp{crtc.ActiveProps(comp.DPMSOn)}
	if err := dc.dev.Backend().AtomicCommit(props, 0); err != nil {
		legacy := conn.DPMSProp(comp.DPMSOn)
		if setErr := dc.dev.Backend().SetObjProperty(legacy.ObjID, device.ObjConnector, legacy.PropID, legacy.Value); setErr != nil {
			dc.log.Debug().Err(setErr).Msg("legacy dpms fallback also failed")
			return ApplyResult{}, kmserrors.New(kmserrors.KindNoResources, "compositor.applyDPMS", err)
		}
	}
	release := dc.timeline.CreateFence()
	dc.timeline.Advance(release.SeqNo)
	comp.SignalCompositionDone(release)
	return ApplyResult{Release: release}, nil
}

func (dc *DrmDisplayCompositor) waitAcquireFences(ctx context.Context, layers []composition.Layer) error {
	for _, l := range layers {
		if !l.HasAcquireFence {
			continue
		}
		var err error
		for attempt := 0; attempt < acquireFenceWaitAttempts; attempt++ {
			err = l.AcquireFence.Wait(ctx, acquireFenceWaitStep)
			if err == nil {
				break
			}
			if kmserrors.As(err) != kmserrors.KindTimeout {
				return err
			}
		}
		if err != nil {
			return kmserrors.New(kmserrors.KindTimeout, "compositor.waitAcquireFences", fmt.Errorf("layer %d acquire fence never signaled after %d attempts", l.LayerIndex, acquireFenceWaitAttempts))
		}
	}
	return nil
}

type squashResult struct {
	props   []device.AtomicProp
	planeID uint32
	layer   composition.Layer
}

// choosePlaneForSquash picks the plane the GPU-composited fallback
// layer lands on: an overlay plane not already claimed by a directly
// placed layer this frame, since the squashed layer must sit above
// whatever's already on the primary plane in the same commit. Only
// when no overlay is free does it fall back to the primary plane, and
// only if nothing already placed a layer there.
func choosePlaneForSquash(overlay, primary []*device.Plane, usedThisFrame map[uint32]bool) *device.Plane {
	for _, p := range overlay {
		if !usedThisFrame[p.ID] {
			return p
		}
	}
	if len(primary) > 0 && !usedThisFrame[primary[0].ID] {
		return primary[0]
	}
	return nil
}

func (dc *DrmDisplayCompositor) squash(ctx context.Context, crtc *device.Crtc, overlay, primary []*device.Plane, usedThisFrame map[uint32]bool, unplaced []composition.Layer) (squashResult, error) {
	p := choosePlaneForSquash(overlay, primary, usedThisFrame)
	if p == nil {
		return squashResult{}, kmserrors.New(kmserrors.KindNoResources, "compositor.squash", fmt.Errorf("no free plane available for GPU fallback"))
	}

	mode, err := dc.currentModeRect()
	if err != nil {
		return squashResult{}, err
	}

	out, err := dc.pre.Composite(ctx, PreCompositorInput{
		DisplayIndex: dc.displayIdx,
		Layers:       unplaced,
		Width:        uint32(mode.Width()),
		Height:       uint32(mode.Height()),
	})
	if err != nil {
		return squashResult{}, kmserrors.New(kmserrors.KindNoResources, "compositor.squash", err)
	}

	dst := mode
	src := types.FRect{Left: 0, Top: 0, Right: float32(mode.Width()), Bottom: float32(mode.Height())}
	layer := composition.Layer{
		FBID: out.FBID, DisplayFrame: dst, SourceCrop: src,
		Blending: types.BlendingPremult, Alpha: 0xffff,
	}
	return squashResult{
		props: p.AtomicProps(device.PlaneGeometry{
			CrtcID: crtc.ID, FBID: out.FBID, Dst: dst, Src: src, Blending: types.BlendingPremult, Alpha: 0xffff, InFenceFD: -1,
		}),
		planeID: p.ID,
		layer:   layer,
	}, nil
}

func (dc *DrmDisplayCompositor) currentModeRect() (types.Rect, error) {
	conn, ok := dc.dev.Connector(dc.displayIdx)
	if !ok {
		return types.Rect{}, kmserrors.New(kmserrors.KindBadDisplay, "compositor.currentModeRect", fmt.Errorf("display %d has no connector", dc.displayIdx))
	}
	for _, m := range conn.Modes {
		if m.ID == conn.ActiveMode || (conn.ActiveMode == -1 && m.ID == conn.PreferredMode) {
			return types.Rect{Right: int32(m.Hdisplay), Bottom: int32(m.Vdisplay)}, nil
		}
	}
	return types.Rect{}, kmserrors.New(kmserrors.KindBadConfig, "compositor.currentModeRect", fmt.Errorf("display %d has no active mode", dc.displayIdx))
}

// FlattenCountdown reports the compositor's remaining all-hardware
// frame count before it reconsiders squash-plane teardown.
func (dc *DrmDisplayCompositor) FlattenCountdown() int { return dc.flattenCountdown }
