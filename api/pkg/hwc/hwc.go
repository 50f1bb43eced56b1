// Package hwc is the facade the outer HWC2-shaped surface (out of
// scope here) is built on: per-display layer lists, Validate/Present,
// and power/vsync/config control, with every DRM/KMS detail hidden
// behind the kms sub-packages.
package hwc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixml/drmhwc/api/pkg/kms/composition"
	"github.com/helixml/drmhwc/api/pkg/kms/compositor"
	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/fb"
	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/planner"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
	"github.com/helixml/drmhwc/api/pkg/kms/vsync"
)

const presentTimeout = 500 * time.Millisecond

// Display is one routed display's client-facing state machine.
type Display struct {
	idx  int
	dev  *device.Device
	plan *planner.Planner
	fbs  *fb.Manager
	imp  importer.Importer
	comp *compositor.DrmDisplayCompositor
	vs   *vsync.Worker
	log  zerolog.Logger

	mu          sync.Mutex
	layers      map[LayerID]*LayerState
	order       []LayerID // bottom-to-top
	nextLayerID LayerID
	powerOn     bool

	lastPlan planner.Plan
}

// Hwc is the top-level facade over every routed display on one device.
type Hwc struct {
	dev      *device.Device
	displays map[int]*Display
	mu       sync.RWMutex
}

// Config bundles the collaborators a Display needs; the daemon's
// composition root constructs one per routed display.
type Config struct {
	Planner       *planner.Planner
	FBManager     *fb.Manager
	Importer      importer.Importer
	PreCompositor compositor.PreCompositor
	Log           zerolog.Logger
}

// New builds an Hwc facade over dev, creating a Display for every
// currently routed display index.
func New(ctx context.Context, dev *device.Device, cfg Config) (*Hwc, error) {
	h := &Hwc{dev: dev, displays: make(map[int]*Display)}
	for _, idx := range dev.Displays() {
		d, err := newDisplay(ctx, dev, idx, cfg)
		if err != nil {
			return nil, err
		}
		h.displays[idx] = d
	}
	return h, nil
}

func newDisplay(ctx context.Context, dev *device.Device, idx int, cfg Config) (*Display, error) {
	crtc, ok := dev.Crtc(idx)
	if !ok {
		return nil, kmserrors.New(kmserrors.KindBadDisplay, "hwc.newDisplay", fmt.Errorf("display %d has no crtc", idx))
	}

	pre := cfg.PreCompositor
	if pre == nil {
		pre = compositor.NullPreCompositor{}
	}
	comp := compositor.New(ctx, dev, idx, pre, cfg.Log)

	d := &Display{
		idx: idx, dev: dev, plan: cfg.Planner, fbs: cfg.FBManager, imp: cfg.Importer, comp: comp,
		log:     cfg.Log.With().Int("display", idx).Logger(),
		layers:  make(map[LayerID]*LayerState),
		powerOn: true,
	}

	refreshHz := func() uint32 {
		c, ok := dev.Connector(idx)
		if !ok {
			return 60
		}
		for _, m := range c.Modes {
			if m.ID == c.ActiveMode {
				return m.RefreshHz()
			}
		}
		return 60
	}
	d.vs = vsync.New(idx, uint32(crtc.Pipe)<<1 /* DRM_VBLANK_HIGH_CRTC_SHIFT */, dev.Backend().WaitVBlank, refreshHz, idx, func(uint64, time.Time) {}, cfg.Log)
	return d, nil
}

// Display returns the facade for displayIdx, or false if unrouted.
func (h *Hwc) Display(displayIdx int) (*Display, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.displays[displayIdx]
	return d, ok
}

// Displays returns the routed display indices.
func (h *Hwc) Displays() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, 0, len(h.displays))
	for idx := range h.displays {
		out = append(out, idx)
	}
	return out
}

// CreateLayer allocates a new, initially-empty layer.
func (d *Display) CreateLayer() LayerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextLayerID++
	id := d.nextLayerID
	d.layers[id] = &LayerState{Alpha: 0xffff, Blending: types.BlendingNone, RequestedType: types.CompositionDevice}
	d.order = append(d.order, id)
	return id
}

// DestroyLayer removes a layer, releasing any imported buffer it holds.
func (d *Display) DestroyLayer(id LayerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.layers[id]
	if !ok {
		return kmserrors.New(kmserrors.KindBadLayer, "DestroyLayer", fmt.Errorf("unknown layer %d", id))
	}
	if l.hasImport {
		if err := d.imp.ReleaseBuffer(l.imported); err != nil {
			d.log.Warn().Err(err).Msg("failed releasing layer buffer on destroy")
		}
	}
	if l.hasFBKey {
		if err := d.fbs.Release(l.fbKey); err != nil {
			d.log.Warn().Err(err).Msg("failed releasing layer framebuffer on destroy")
		}
	}
	delete(d.layers, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

func (d *Display) layer(id LayerID) (*LayerState, error) {
	l, ok := d.layers[id]
	if !ok {
		return nil, kmserrors.New(kmserrors.KindBadLayer, "hwc.layer", fmt.Errorf("unknown layer %d", id))
	}
	return l, nil
}

// SetLayerBuffer imports buf and replaces any buffer the layer
// previously held, releasing the old one.
func (d *Display) SetLayerBuffer(id LayerID, buf importer.Buffer, acquire composition.Fence, hasAcquire bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	imported, err := d.imp.ImportBuffer(buf)
	if err != nil {
		return err
	}
	if l.hasImport {
		if relErr := d.imp.ReleaseBuffer(l.imported); relErr != nil {
			d.log.Warn().Err(relErr).Msg("failed releasing previous layer buffer")
		}
	}
	if l.hasFBKey {
		if relErr := d.fbs.Release(l.fbKey); relErr != nil {
			d.log.Warn().Err(relErr).Msg("failed releasing previous layer framebuffer")
		}
		l.hasFBKey = false
	}
	l.Buffer = buf
	l.imported = imported
	l.hasImport = true
	l.AcquireFence = acquire
	l.HasAcquireFence = hasAcquire
	return nil
}

// SetLayerDisplayFrame sets the integer destination rectangle.
func (d *Display) SetLayerDisplayFrame(id LayerID, r types.Rect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.DisplayFrame = r
	return nil
}

// SetLayerSourceCrop sets the float source rectangle.
func (d *Display) SetLayerSourceCrop(id LayerID, r types.FRect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.SourceCrop = r
	return nil
}

// SetLayerTransform sets the buffer transform.
func (d *Display) SetLayerTransform(id LayerID, t types.Transform) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.Transform = t
	return nil
}

// SetLayerBlendMode sets the alpha-compositing mode.
func (d *Display) SetLayerBlendMode(id LayerID, b types.Blending) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.Blending = b
	return nil
}

// SetLayerPlaneAlpha sets the plane-wide alpha multiplier (0..0xffff).
func (d *Display) SetLayerPlaneAlpha(id LayerID, alpha uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.Alpha = alpha
	return nil
}

// SetLayerZOrder sets the layer's stacking order; lower draws first.
func (d *Display) SetLayerZOrder(id LayerID, z uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.ZOrder = z
	return nil
}

// SetLayerType marks the layer as normal/cursor/protected/video/solid-color.
func (d *Display) SetLayerType(id LayerID, t types.LayerType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.Type = t
	return nil
}

// SetLayerCompositionType requests that this layer be composited as
// Device (scanned out directly on a plane) or Client (left to the
// client to render into the client-target buffer). Validate may still
// coerce a requested Device layer to Client if hardware can't show it.
func (d *Display) SetLayerCompositionType(id LayerID, t types.CompositionType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.RequestedType = t
	return nil
}

// SetLayerDataspace records the layer's opaque dataspace id.
func (d *Display) SetLayerDataspace(id LayerID, ds types.Dataspace) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, err := d.layer(id)
	if err != nil {
		return err
	}
	l.Dataspace = ds
	return nil
}

// Validate runs the planner over the display's current layer set and
// caches the result for the following Present, returning the number of
// layers whose validated composition type differs from what was last
// requested for them.
//
// Requested Device layers the importer could never show are coerced
// to Client for this test composition; a Client-type layer never
// competes with Device layers for a plane, which has the same effect
// as collapsing every Client layer into one synthetic entry before
// planning (nothing backing a Client layer is ever handed a PlaneID).
// If a video layer is present and nothing coerces to Client, only the
// video layer(s) are offered to the planner; everything else is left
// for the client this frame (all-device video mode).
func (d *Display) Validate() (changesToClient int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	crtc, ok := d.dev.Crtc(d.idx)
	if !ok {
		return 0, kmserrors.New(kmserrors.KindBadDisplay, "hwc.Validate", fmt.Errorf("display %d has no crtc", d.idx))
	}
	primary, overlay, cursor := d.dev.PlanesForCrtc(crtc.ID)
	caps := reserveClientTargetPlane(planeCaps(primary, overlay, cursor))

	var planLayers []planner.Layer
	var hasVideo, hasClient bool
	for i, id := range d.order {
		l := d.layers[id]
		if l.Type == types.LayerVideo {
			hasVideo = true
		}
		if requestedType(l) == types.CompositionClient || !l.hasImport {
			hasClient = true
			continue
		}
		planLayers = append(planLayers, planner.Layer{
			Index: i, Type: l.Type, Format: l.Buffer.Format, Transform: l.Transform, Blending: l.Blending,
		})
	}

	if hasVideo && !hasClient {
		videoOnly := planLayers[:0:0]
		for _, pl := range planLayers {
			if d.layers[d.order[pl.Index]].Type == types.LayerVideo {
				videoOnly = append(videoOnly, pl)
			}
		}
		planLayers = videoOnly
	}

	d.lastPlan = d.plan.Plan(planLayers, caps)

	placed := make(map[int]bool, len(d.lastPlan.Assignments))
	for _, a := range d.lastPlan.Assignments {
		placed[a.LayerIndex] = true
	}

	changes := 0
	for i, id := range d.order {
		l := d.layers[id]
		validated := types.CompositionClient
		if placed[i] {
			validated = types.CompositionDevice
		}
		l.ValidatedType = validated
		if validated != requestedType(l) {
			changes++
		}
	}
	return changes, nil
}

// GetChangedCompositionTypes returns, for every layer whose last
// Validate assigned it a different composition type than was
// requested, the type it was actually validated as.
func (d *Display) GetChangedCompositionTypes() map[LayerID]types.CompositionType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[LayerID]types.CompositionType)
	for id, l := range d.layers {
		if l.ValidatedType != types.CompositionInvalid && l.ValidatedType != requestedType(l) {
			out[id] = l.ValidatedType
		}
	}
	return out
}

func requestedType(l *LayerState) types.CompositionType {
	if l.RequestedType == types.CompositionInvalid {
		return types.CompositionDevice
	}
	return l.RequestedType
}

// reserveClientTargetPlane drops one non-cursor plane from caps so
// test-mode planning always leaves a plane free for the client-target
// buffer, matching Validate's "usable_plane_count - 1" walk.
func reserveClientTargetPlane(caps []planner.PlaneCaps) []planner.PlaneCaps {
	for i := len(caps) - 1; i >= 0; i-- {
		if caps[i].Type != types.PlaneCursor {
			reserved := make([]planner.PlaneCaps, 0, len(caps)-1)
			reserved = append(reserved, caps[:i]...)
			reserved = append(reserved, caps[i+1:]...)
			return reserved
		}
	}
	return caps
}

func planeCaps(primary, overlay, cursor []*device.Plane) []planner.PlaneCaps {
	var out []planner.PlaneCaps
	add := func(p *device.Plane, t types.PlaneType) {
		formats := make(map[types.FourCC]bool, len(p.Formats))
		for _, f := range p.Formats {
			formats[f] = true
		}
		out = append(out, planner.PlaneCaps{
			ID: p.ID, Type: t, Formats: formats,
			HasRotation: p.HasRotation(), RotationEnum: p.RotationEnum(),
			HasBlendMode: p.HasBlendMode(), BlendEnum: p.BlendEnum(),
			HasAlpha: p.HasAlpha(), HasZpos: true, ImmutableZpos: p.ImmutableZpos,
		})
	}
	for _, p := range primary {
		add(p, types.PlanePrimary)
	}
	for _, p := range overlay {
		add(p, types.PlaneOverlay)
	}
	for _, p := range cursor {
		add(p, types.PlaneCursor)
	}
	return out
}

// Present commits the current layer set (as last Validated) to the
// display and returns the display's release fence.
func (d *Display) Present() (composition.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	comp := composition.NewEmpty(d.idx)
	compLayers := make([]composition.Layer, 0, len(d.order))
	assignByIndex := make(map[int]uint32, len(d.lastPlan.Assignments))
	for _, a := range d.lastPlan.Assignments {
		assignByIndex[a.LayerIndex] = a.PlaneID
	}

	for i, id := range d.order {
		l := d.layers[id]
		fbID := uint32(0)
		if l.hasImport {
			key := fb.Key{PlaneCount: l.imported.NumPlanes, Handles: l.imported.Handles, Width: l.Buffer.Width, Height: l.Buffer.Height, Format: l.Buffer.Format, Modifier: l.Buffer.Modifier}
			if l.hasFBKey && l.fbKey == key {
				fbID = l.fbID
			} else {
				newID, err := d.fbs.FindOrCreate(fb.Params{Key: key, Pitches: l.Buffer.Pitches, Offsets: l.Buffer.Offsets})
				if err != nil {
					return composition.Fence{}, err
				}
				if l.hasFBKey {
					if relErr := d.fbs.Release(l.fbKey); relErr != nil {
						d.log.Warn().Err(relErr).Msg("failed releasing superseded layer framebuffer")
					}
				}
				l.fbKey = key
				l.fbID = newID
				l.hasFBKey = true
				fbID = newID
			}
		}
		compLayers = append(compLayers, composition.Layer{
			LayerIndex: i, PlaneID: assignByIndex[i], FBID: fbID,
			DisplayFrame: l.DisplayFrame, SourceCrop: l.SourceCrop, Transform: l.Transform,
			Blending: l.Blending, Alpha: l.Alpha, Zpos: l.ZOrder,
			AcquireFence: l.AcquireFence, HasAcquireFence: l.HasAcquireFence,
		})
	}
	if err := comp.SetLayers(compLayers); err != nil {
		return composition.Fence{}, err
	}

	result, err := d.comp.Composite(comp, presentTimeout)
	if err != nil {
		return composition.Fence{}, err
	}
	return result.Release, nil
}

// SetActiveConfig records modeID as the connector's active mode after
// checking that the connector has such a mode. It creates no mode blob
// and queues no modeset; later Presents commit without a MODE_ID change.
func (d *Display) SetActiveConfig(modeID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.dev.Connector(d.idx)
	if !ok {
		return kmserrors.New(kmserrors.KindBadDisplay, "SetActiveConfig", fmt.Errorf("display %d has no connector", d.idx))
	}
	var found *device.Mode
	for i := range conn.Modes {
		if conn.Modes[i].ID == modeID {
			found = &conn.Modes[i]
			break
		}
	}
	if found == nil {
		return kmserrors.New(kmserrors.KindBadConfig, "SetActiveConfig", fmt.Errorf("display %d has no mode %d", d.idx, modeID))
	}
	conn.ActiveMode = modeID
	return nil
}

// SetPowerMode turns the display's CRTC on or off.
func (d *Display) SetPowerMode(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerOn = on
	comp := composition.NewEmpty(d.idx)
	if err := comp.SetDPMS(on); err != nil {
		return err
	}
	_, err := d.comp.Composite(comp, presentTimeout)
	return err
}

// SetVsyncEnabled starts or stops vblank callback generation.
func (d *Display) SetVsyncEnabled(ctx context.Context, enabled bool) {
	d.vs.SetEnabled(ctx, enabled)
}

// PowerOn reports the display's last-set power state.
func (d *Display) PowerOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerOn
}
