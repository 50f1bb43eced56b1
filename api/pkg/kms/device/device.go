// Package device implements the DRM/KMS resource model: the static
// topology of CRTCs, encoders, connectors and planes, and the rules
// for routing connectors to CRTCs into "display pipes".
package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// DRM_MODE_OBJECT_* constants, used by the generic OBJ_GETPROPERTIES /
// OBJ_SETPROPERTY ioctls to say which kind of object an id refers to.
const (
	objCrtc      = 0xcccccccc
	objConnector = 0xc0c0c0c0
	objEncoder   = 0xe0e0e0e0
	objPlane     = 0xeeeeeeee
)

const (
	clientCapUniversalPlanes     = 2
	clientCapAtomic              = 3
	clientCapWritebackConnectors = 5

	modePropPreferred = 1 << 3 // DRM_MODE_TYPE_PREFERRED
)

// Crtc is a display pipeline output: it blends planes and feeds an
// encoder.
type Crtc struct {
	ID    uint32
	Pipe  int // index into the CRTC resource array; used for vblank high-crtc encoding
	Display int // -1 if unbound, else the display index it is routed to

	activePropID     uint32
	modeIDPropID     uint32
	outFencePropID   uint32
}

// Encoder converts a CRTC's pixel stream for a connector.
type Encoder struct {
	ID             uint32
	CrtcID         uint32 // 0 if unbound
	PossibleCrtcs  uint32 // bitmask, bit i == can attach to crtcs[i]
	PossibleClones uint32
}

// Mode is one display timing, with a display-scoped monotonically
// assigned id: each mode gets a fresh id scoped to its display, not a
// global or kernel-assigned one.
type Mode struct {
	ID         int
	ClockKHz   uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	VRefresh   uint32
	Flags      uint32
	modeType   uint32
	Name       string
}

// Equal compares two modes field-wise on their timings, not by id or
// name.
func (m Mode) Equal(o Mode) bool {
	return m.ClockKHz == o.ClockKHz &&
		m.Hdisplay == o.Hdisplay && m.HsyncStart == o.HsyncStart && m.HsyncEnd == o.HsyncEnd && m.Htotal == o.Htotal &&
		m.Vdisplay == o.Vdisplay && m.VsyncStart == o.VsyncStart && m.VsyncEnd == o.VsyncEnd && m.Vtotal == o.Vtotal &&
		m.Flags == o.Flags
}

// RefreshHz returns the mode's refresh rate, defaulting to 60 when the
// kernel didn't report one (used by the vsync worker's phased fallback).
func (m Mode) RefreshHz() uint32 {
	if m.VRefresh == 0 {
		return 60
	}
	return m.VRefresh
}

func (m Mode) isPreferred() bool { return m.modeType&modePropPreferred != 0 }

// Connector is a physical (or writeback) video output.
type Connector struct {
	ID   uint32
	Type types.ConnectorType
	drmConnectorType uint32

	Connection types.ConnectionState
	MmWidth, MmHeight uint32

	CurrentEncoder uint32
	PossibleEncoders []uint32

	Modes         []Mode
	PreferredMode int // mode id, or -1

	ActiveMode int // mode id currently committed, or -1

	Display int // display index, or -1 if unrouted

	crtcIDPropID uint32
	dpmsPropID   uint32

	// writeback-only
	writebackPixelFormatsPropID uint32
	writebackFbIDPropID         uint32
	writebackOutFencePropID     uint32

	nextModeID int
}

// Plane is a hardware scanout unit.
type Plane struct {
	ID            uint32
	Type          types.PlaneType
	PossibleCrtcs uint32
	Formats       []types.FourCC

	crtcIDPropID  uint32
	fbIDPropID    uint32
	crtcXPropID, crtcYPropID, crtcWPropID, crtcHPropID uint32
	srcXPropID, srcYPropID, srcWPropID, srcHPropID     uint32
	rotationPropID uint32
	rotationEnum   map[string]uint64
	blendPropID    uint32
	blendEnum      map[string]uint64
	alphaPropID    uint32
	zposPropID     uint32
	inFenceFDPropID uint32

	// ImmutableZpos reports whether zpos is read-only on this plane. KMS
	// doesn't expose immutability directly through OBJ_GETPROPERTIES, so
	// this is set by the caller / fake topology when known; zero value
	// (false) is the common case on recent kernels that allow zpos writes.
	ImmutableZpos bool
}

// Device is one open DRM render node with its resolved topology.
type Device struct {
	path    string
	backend Backend

	minWidth, maxWidth, minHeight, maxHeight uint32

	mu sync.RWMutex

	crtcs      map[uint32]*Crtc
	crtcOrder  []uint32 // pipe index -> crtc id
	encoders   map[uint32]*Encoder
	connectors map[uint32]*Connector
	writebackConnectors map[uint32]*Connector
	planes     map[uint32]*Plane

	displays map[int]uint32 // display index -> connector id

	hasWriteback bool
}

// Open opens path, enumerates its topology, and routes displays.
func Open(path string) (*Device, error) {
	b, err := openRealBackend(path)
	if err != nil {
		return nil, kmserrors.New(kmserrors.KindNoDevice, "device.Open", err)
	}
	return newDevice(path, b)
}

// OpenWithBackend builds a Device over an already-constructed Backend
// (e.g. devicetest.Fake), bypassing the real render-node open. Used by
// tests and by callers that already hold a leased fd.
func OpenWithBackend(path string, b Backend) (*Device, error) {
	return newDevice(path, b)
}

func newDevice(path string, b Backend) (*Device, error) {
	d := &Device{
		path:    path,
		backend: b,
		crtcs:   make(map[uint32]*Crtc),
		encoders: make(map[uint32]*Encoder),
		connectors: make(map[uint32]*Connector),
		writebackConnectors: make(map[uint32]*Connector),
		planes: make(map[uint32]*Plane),
		displays: make(map[int]uint32),
	}

	// Step 1: client caps. UNIVERSAL_PLANES and ATOMIC are required;
	// WRITEBACK_CONNECTORS is best-effort.
	if err := b.SetClientCap(clientCapUniversalPlanes, 1); err != nil {
		b.Close()
		return nil, kmserrors.New(kmserrors.KindNoDevice, "SetClientCap(UNIVERSAL_PLANES)", err)
	}
	if err := b.SetClientCap(clientCapAtomic, 1); err != nil {
		b.Close()
		return nil, kmserrors.New(kmserrors.KindNoDevice, "SetClientCap(ATOMIC)", err)
	}
	d.hasWriteback = b.SetClientCap(clientCapWritebackConnectors, 1) == nil

	crtcIDs, encoderIDs, connectorIDs, minW, maxW, minH, maxH, err := b.Resources()
	if err != nil {
		b.Close()
		return nil, kmserrors.New(kmserrors.KindNoDevice, "Resources", err)
	}
	d.minWidth, d.maxWidth, d.minHeight, d.maxHeight = minW, maxW, minH, maxH

	// Step 3: CRTCs.
	d.crtcOrder = append([]uint32{}, crtcIDs...)
	for i, id := range crtcIDs {
		c := &Crtc{ID: id, Pipe: i, Display: -1}
		if err := d.loadCrtcProps(c); err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("crtc %d props", id), err)
		}
		d.crtcs[id] = c
	}

	// Step 4: encoders (possible_crtcs + current binding). Clone
	// linking needs every encoder to exist first, but PossibleClones is
	// already a full bitmask from the ioctl, so no second pass is
	// required here.
	for _, id := range encoderIDs {
		possibleCrtcs, possibleClones, crtcID, err := b.Encoder(id)
		if err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("encoder %d", id), err)
		}
		d.encoders[id] = &Encoder{ID: id, CrtcID: crtcID, PossibleCrtcs: possibleCrtcs, PossibleClones: possibleClones}
	}

	// Step 5: connectors.
	var internalConns, externalConns []uint32
	for _, id := range connectorIDs {
		info, err := b.Connector(id)
		if err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("connector %d", id), err)
		}
		conn := &Connector{
			ID:               id,
			drmConnectorType: info.ConnectorType,
			Type:             classifyConnector(info.ConnectorType),
			Connection:       classifyConnection(info.Connection),
			MmWidth:          info.MmWidth,
			MmHeight:         info.MmHeight,
			CurrentEncoder:   info.EncoderID,
			PossibleEncoders: info.PossibleEncoders,
			Display:          -1,
			ActiveMode:       -1,
			PreferredMode:    -1,
		}
		conn.Modes = convertModes(info.Modes, &conn.nextModeID)
		conn.PreferredMode = choosePreferredMode(conn.Modes)

		if err := d.loadConnectorProps(conn); err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("connector %d props", id), err)
		}

		if conn.Type == types.ConnectorWriteback {
			d.writebackConnectors[id] = conn
			continue
		}
		d.connectors[id] = conn
		if conn.Type == types.ConnectorInternal {
			internalConns = append(internalConns, id)
		} else {
			externalConns = append(externalConns, id)
		}
	}

	// Step 6: planes.
	planeIDs, err := b.PlaneIDs()
	if err != nil {
		b.Close()
		return nil, kmserrors.New(kmserrors.KindNoDevice, "PlaneIDs", err)
	}
	for _, id := range planeIDs {
		possibleCrtcs, formats, err := b.Plane(id)
		if err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("plane %d", id), err)
		}
		p := &Plane{ID: id, PossibleCrtcs: possibleCrtcs, Formats: convertFormats(formats)}
		if err := d.loadPlaneProps(p); err != nil {
			b.Close()
			return nil, kmserrors.New(kmserrors.KindNoDevice, fmt.Sprintf("plane %d props", id), err)
		}
		d.planes[id] = p
	}

	// Step 6 (cont'd): assign displays — first internal connector gets
	// index 0 ("primary"); remaining internal, then external connectors
	// get consecutive indices, in ascending connector-id order so the
	// assignment is deterministic.
	sort.Slice(internalConns, func(i, j int) bool { return internalConns[i] < internalConns[j] })
	sort.Slice(externalConns, func(i, j int) bool { return externalConns[i] < externalConns[j] })
	next := 0
	for _, id := range append(internalConns, externalConns...) {
		d.displays[next] = id
		d.connectors[id].Display = next
		next++
	}

	// Step 8: create display pipes.
	for idx := 0; idx < next; idx++ {
		connID := d.displays[idx]
		if err := d.createDisplayPipe(idx, d.connectors[connID]); err != nil {
			b.Close()
			return nil, err
		}
	}

	// Step 9: best-effort writeback attach, sharing the display's crtc.
	d.attachWritebackConnectors()

	return d, nil
}

func classifyConnector(drmType uint32) types.ConnectorType {
	const (
		connectorWriteback = 18 // DRM_MODE_CONNECTOR_WRITEBACK
		connectorVirtual   = 15
		connectorDSI       = 16
		connectorLVDS      = 7
		connectorEDP       = 14
		connectorDisplayPort = 10
		connectorHDMIA     = 11
		connectorHDMIB     = 12
	)
	switch drmType {
	case connectorWriteback:
		return types.ConnectorWriteback
	case connectorLVDS, connectorEDP, connectorDSI, connectorVirtual:
		return types.ConnectorInternal
	default:
		return types.ConnectorExternal
	}
}

func classifyConnection(drmConn uint32) types.ConnectionState {
	switch drmConn {
	case 1:
		return types.ConnectionConnected
	case 2:
		return types.ConnectionDisconnected
	default:
		return types.ConnectionUnknown
	}
}

func convertModes(raw []ModeInfo, nextID *int) []Mode {
	out := make([]Mode, 0, len(raw))
	for _, m := range raw {
		mode := Mode{
			ID: *nextID, ClockKHz: m.ClockKHz,
			Hdisplay: m.Hdisplay, HsyncStart: m.HsyncStart, HsyncEnd: m.HsyncEnd, Htotal: m.Htotal,
			Vdisplay: m.Vdisplay, VsyncStart: m.VsyncStart, VsyncEnd: m.VsyncEnd, Vtotal: m.Vtotal,
			VRefresh: m.VRefresh, Flags: m.Flags, modeType: m.Type, Name: m.Name,
		}
		*nextID++
		out = append(out, mode)
	}
	return out
}

func choosePreferredMode(modes []Mode) int {
	for _, m := range modes {
		if m.isPreferred() {
			return m.ID
		}
	}
	if len(modes) > 0 {
		return modes[0].ID
	}
	return -1
}

func convertFormats(raw []uint32) []types.FourCC {
	out := make([]types.FourCC, len(raw))
	for i, f := range raw {
		out[i] = types.FourCC(f)
	}
	return out
}

func (d *Device) loadCrtcProps(c *Crtc) error {
	ids, err := d.propNamesFor(objCrtc, c.ID)
	if err != nil {
		return err
	}
	c.activePropID = ids["ACTIVE"]
	c.modeIDPropID = ids["MODE_ID"]
	c.outFencePropID = ids["OUT_FENCE_PTR"]
	return nil
}

func (d *Device) loadConnectorProps(c *Connector) error {
	ids, err := d.propNamesFor(objConnector, c.ID)
	if err != nil {
		return err
	}
	c.crtcIDPropID = ids["CRTC_ID"]
	c.dpmsPropID = ids["DPMS"]
	if c.Type == types.ConnectorWriteback {
		c.writebackPixelFormatsPropID = ids["WRITEBACK_PIXEL_FORMATS"]
		c.writebackFbIDPropID = ids["WRITEBACK_FB_ID"]
		c.writebackOutFencePropID = ids["WRITEBACK_OUT_FENCE_PTR"]
	}
	return nil
}

func (d *Device) loadPlaneProps(p *Plane) error {
	propIDs, _, err := d.backend.ObjProperties(p.ID, objPlane)
	if err != nil {
		return err
	}
	for _, id := range propIDs {
		name, enum, err := d.backend.PropertyInfo(id)
		if err != nil {
			return err
		}
		switch name {
		case "CRTC_ID":
			p.crtcIDPropID = id
		case "FB_ID":
			p.fbIDPropID = id
		case "CRTC_X":
			p.crtcXPropID = id
		case "CRTC_Y":
			p.crtcYPropID = id
		case "CRTC_W":
			p.crtcWPropID = id
		case "CRTC_H":
			p.crtcHPropID = id
		case "SRC_X":
			p.srcXPropID = id
		case "SRC_Y":
			p.srcYPropID = id
		case "SRC_W":
			p.srcWPropID = id
		case "SRC_H":
			p.srcHPropID = id
		case "rotation":
			p.rotationPropID = id
			p.rotationEnum = enum
		case "pixel blend mode", "blend":
			p.blendPropID = id
			p.blendEnum = enum
		case "alpha":
			p.alphaPropID = id
		case "zpos":
			p.zposPropID = id
		case "IN_FENCE_FD":
			p.inFenceFDPropID = id
		case "type":
			if v, ok := enum["Primary"]; ok && containsU64(propValuesFor(d, p.ID, objPlane, id), v) {
				p.Type = types.PlanePrimary
			} else if v, ok := enum["Cursor"]; ok && containsU64(propValuesFor(d, p.ID, objPlane, id), v) {
				p.Type = types.PlaneCursor
			} else {
				p.Type = types.PlaneOverlay
			}
		}
	}
	return nil
}

// propValuesFor re-reads an object's properties to find the current
// value of propID; used only for the plane "type" enum since Backend's
// ObjProperties/PropertyInfo split doesn't carry per-object values
// alongside enum names in one call.
func propValuesFor(d *Device, objID, objType, propID uint32) []uint64 {
	ids, values, err := d.backend.ObjProperties(objID, objType)
	if err != nil {
		return nil
	}
	for i, id := range ids {
		if id == propID {
			return []uint64{values[i]}
		}
	}
	return nil
}

func containsU64(haystack []uint64, v uint64) bool {
	for _, h := range haystack {
		if h == v {
			return true
		}
	}
	return false
}

func (d *Device) propNamesFor(objType, objID uint32) (map[string]uint32, error) {
	ids, _, err := d.backend.ObjProperties(objID, objType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint32, len(ids))
	for _, id := range ids {
		name, _, err := d.backend.PropertyInfo(id)
		if err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, nil
}

// createDisplayPipe tries the connector's currently-bound encoder
// first, then falls back to walking every possible encoder, picking
// the first crtc whose display binding is free or already matches
// this display.
func (d *Device) createDisplayPipe(displayIdx int, conn *Connector) error {
	try := func(encID uint32) bool {
		enc, ok := d.encoders[encID]
		if !ok {
			return false
		}
		for _, crtcID := range d.crtcOrder {
			bit := uint32(1) << uint(indexOf(d.crtcOrder, crtcID))
			if enc.PossibleCrtcs&bit == 0 {
				continue
			}
			c := d.crtcs[crtcID]
			if c.Display != -1 && c.Display != displayIdx {
				continue
			}
			c.Display = displayIdx
			enc.CrtcID = crtcID
			conn.CurrentEncoder = encID
			return true
		}
		return false
	}

	if conn.CurrentEncoder != 0 && try(conn.CurrentEncoder) {
		return nil
	}
	for _, encID := range conn.PossibleEncoders {
		if try(encID) {
			return nil
		}
	}
	return kmserrors.New(kmserrors.KindNoResources, "CreateDisplayPipe", fmt.Errorf("no pipe for connector %d", conn.ID))
}

func indexOf(s []uint32, v uint32) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// attachWritebackConnectors best-effort shares each display's crtc with
// a writeback connector whose possible encoders can reach it.
func (d *Device) attachWritebackConnectors() {
	if !d.hasWriteback {
		return
	}
	for _, wb := range d.writebackConnectors {
		for _, encID := range wb.PossibleEncoders {
			enc, ok := d.encoders[encID]
			if !ok {
				continue
			}
			for i, crtcID := range d.crtcOrder {
				bit := uint32(1) << uint(i)
				if enc.PossibleCrtcs&bit == 0 {
					continue
				}
				c := d.crtcs[crtcID]
				if c.Display == -1 {
					continue
				}
				wb.Display = c.Display
				break
			}
			if wb.Display != -1 {
				break
			}
		}
	}
}

// UpdateModes re-reads a connector's modes (hotplug / reconfigure),
// preserving ids for modes that compare equal to a previously-known
// mode and assigning fresh ids to new ones.
func (d *Device) UpdateModes(connID uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.connectors[connID]
	if !ok {
		return kmserrors.New(kmserrors.KindBadDisplay, "UpdateModes", fmt.Errorf("unknown connector %d", connID))
	}
	info, err := d.backend.Connector(connID)
	if err != nil {
		return kmserrors.New(kmserrors.KindNoDevice, "UpdateModes", err)
	}
	conn.Connection = classifyConnection(info.Connection)

	merged := make([]Mode, 0, len(info.Modes))
	for _, raw := range info.Modes {
		candidate := Mode{
			ClockKHz: raw.ClockKHz, Hdisplay: raw.Hdisplay, HsyncStart: raw.HsyncStart, HsyncEnd: raw.HsyncEnd, Htotal: raw.Htotal,
			Vdisplay: raw.Vdisplay, VsyncStart: raw.VsyncStart, VsyncEnd: raw.VsyncEnd, Vtotal: raw.Vtotal,
			VRefresh: raw.VRefresh, Flags: raw.Flags, modeType: raw.Type, Name: raw.Name,
		}
		id := -1
		for _, old := range conn.Modes {
			if old.Equal(candidate) {
				id = old.ID
				break
			}
		}
		if id == -1 {
			id = conn.nextModeID
			conn.nextModeID++
		}
		candidate.ID = id
		merged = append(merged, candidate)
	}
	conn.Modes = merged
	conn.PreferredMode = choosePreferredMode(merged)
	return nil
}

// CreatePropertyBlob wraps the backend's CREATEPROPBLOB ioctl.
func (d *Device) CreatePropertyBlob(data []byte) (uint32, error) {
	return d.backend.CreatePropertyBlob(data)
}

// DestroyPropertyBlob wraps the backend's DESTROYPROPBLOB ioctl.
// Failure to destroy an old mode blob is recovered locally: the
// caller logs it and moves on rather than surfacing it further up.
func (d *Device) DestroyPropertyBlob(id uint32) error {
	return d.backend.DestroyPropertyBlob(id)
}

// Backend exposes the raw ioctl surface for callers (compositor,
// importer) that need to issue their own atomic commits / fb ops
// against this device.
func (d *Device) Backend() Backend { return d.backend }

// Close releases the underlying fd.
func (d *Device) Close() error { return d.backend.Close() }

// Displays returns the sorted list of routed display indices.
func (d *Device) Displays() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int, 0, len(d.displays))
	for idx := range d.displays {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Connector returns the connector routed to display idx.
func (d *Device) Connector(displayIdx int) (*Connector, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.displays[displayIdx]
	if !ok {
		return nil, false
	}
	return d.connectors[id], true
}

// Crtc returns the CRTC bound to display idx.
func (d *Device) Crtc(displayIdx int) (*Crtc, bool) {
	conn, ok := d.Connector(displayIdx)
	if !ok {
		return nil, false
	}
	enc, ok := d.encoders[conn.CurrentEncoder]
	if !ok {
		return nil, false
	}
	c, ok := d.crtcs[enc.CrtcID]
	return c, ok
}

// PlanesForCrtc returns the primary, overlay and cursor planes usable on crtc,
// split by type, in ascending id order.
func (d *Device) PlanesForCrtc(crtcID uint32) (primary []*Plane, overlay []*Plane, cursor []*Plane) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	idx := indexOf(d.crtcOrder, crtcID)
	if idx < 0 {
		return nil, nil, nil
	}
	bit := uint32(1) << uint(idx)
	ids := make([]uint32, 0, len(d.planes))
	for id := range d.planes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := d.planes[id]
		if p.PossibleCrtcs&bit == 0 {
			continue
		}
		switch p.Type {
		case types.PlanePrimary:
			primary = append(primary, p)
		case types.PlaneCursor:
			cursor = append(cursor, p)
		default:
			overlay = append(overlay, p)
		}
	}
	return primary, overlay, cursor
}

// DPI computes dots-per-1000-inches from pixel count and mm dimension:
// dpi = pixels*25400/mm, or -1 when mm is 0.
func DPI(pixels, mmDimension uint32) int {
	if mmDimension == 0 {
		return -1
	}
	return int(uint64(pixels) * 25400 / uint64(mmDimension))
}

// ObjCrtc, ObjConnector and ObjPlane are the DRM_MODE_OBJECT_* values
// the compositor needs when issuing its own OBJ_SETPROPERTY calls
// outside of an atomic commit (e.g. best-effort DPMS on legacy paths).
const (
	ObjCrtc      = objCrtc
	ObjConnector = objConnector
	ObjPlane     = objPlane
)

// DisablePlaneProps returns the atomic properties that disable plane p
// (CRTC_ID=0, FB_ID=0), used when a layer previously on this plane is
// no longer placed there.
func (p *Plane) DisablePlaneProps() []AtomicProp {
	return []AtomicProp{
		{ObjID: p.ID, PropID: p.crtcIDPropID, Value: 0},
		{ObjID: p.ID, PropID: p.fbIDPropID, Value: 0},
	}
}

// PlaneGeometry is everything a plane needs set for one layer to scan
// out correctly.
type PlaneGeometry struct {
	CrtcID    uint32
	FBID      uint32
	Dst       types.Rect  // CRTC_X/Y/W/H, integer pixels
	Src       types.FRect // SRC_X/Y/W/H, converted to 16.16 fixed point
	Transform types.Transform
	Blending  types.Blending
	Alpha     uint16
	Zpos      uint32
	HasZpos   bool
	InFenceFD int32 // -1 if none
}

// AtomicProps returns the (objID, propID, value) triples needed to
// commit g onto plane p in a single atomic request.
func (p *Plane) AtomicProps(g PlaneGeometry) []AtomicProp {
	srcFixed := g.Src.Fixed1616()
	props := []AtomicProp{
		{ObjID: p.ID, PropID: p.crtcIDPropID, Value: uint64(g.CrtcID)},
		{ObjID: p.ID, PropID: p.fbIDPropID, Value: uint64(g.FBID)},
		{ObjID: p.ID, PropID: p.crtcXPropID, Value: uint64(uint32(g.Dst.Left))},
		{ObjID: p.ID, PropID: p.crtcYPropID, Value: uint64(uint32(g.Dst.Top))},
		{ObjID: p.ID, PropID: p.crtcWPropID, Value: uint64(uint32(g.Dst.Width()))},
		{ObjID: p.ID, PropID: p.crtcHPropID, Value: uint64(uint32(g.Dst.Height()))},
		{ObjID: p.ID, PropID: p.srcXPropID, Value: uint64(uint32(srcFixed.Left))},
		{ObjID: p.ID, PropID: p.srcYPropID, Value: uint64(uint32(srcFixed.Top))},
		{ObjID: p.ID, PropID: p.srcWPropID, Value: uint64(uint32(srcFixed.Width()))},
		{ObjID: p.ID, PropID: p.srcHPropID, Value: uint64(uint32(srcFixed.Height()))},
	}
	if p.rotationPropID != 0 {
		if v, ok := p.rotationEnum[rotationEnumName(g.Transform)]; ok {
			props = append(props, AtomicProp{ObjID: p.ID, PropID: p.rotationPropID, Value: v})
		}
	}
	if p.blendPropID != 0 {
		if v, ok := p.blendEnum[blendEnumName(g.Blending)]; ok {
			props = append(props, AtomicProp{ObjID: p.ID, PropID: p.blendPropID, Value: v})
		}
	}
	if p.alphaPropID != 0 {
		props = append(props, AtomicProp{ObjID: p.ID, PropID: p.alphaPropID, Value: uint64(g.Alpha)})
	}
	if p.zposPropID != 0 && g.HasZpos && !p.ImmutableZpos {
		props = append(props, AtomicProp{ObjID: p.ID, PropID: p.zposPropID, Value: uint64(g.Zpos)})
	}
	if p.inFenceFDPropID != 0 && g.InFenceFD >= 0 {
		props = append(props, AtomicProp{ObjID: p.ID, PropID: p.inFenceFDPropID, Value: uint64(uint32(g.InFenceFD))})
	}
	return props
}

// HasRotation reports whether this plane exposes a rotation property.
func (p *Plane) HasRotation() bool { return p.rotationPropID != 0 }

// RotationEnum returns the plane's rotation property enum, keyed by
// the kernel's enum names ("rotate-0", "reflect-x", ...). Empty if
// HasRotation is false.
func (p *Plane) RotationEnum() map[string]uint64 { return p.rotationEnum }

// HasBlendMode reports whether this plane exposes a pixel blend mode
// property.
func (p *Plane) HasBlendMode() bool { return p.blendPropID != 0 }

// BlendEnum returns the plane's blend mode property enum, keyed by
// the kernel's enum names ("None", "Pre-multiplied", "Coverage").
// Empty if HasBlendMode is false.
func (p *Plane) BlendEnum() map[string]uint64 { return p.blendEnum }

// HasAlpha reports whether this plane exposes a plane-wide alpha
// property.
func (p *Plane) HasAlpha() bool { return p.alphaPropID != 0 }

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

func blendEnumName(b types.Blending) string {
	switch b {
	case types.BlendingCoverage:
		return "Coverage"
	case types.BlendingPremult:
		return "Pre-multiplied"
	default:
		return "None"
	}
}

// ActiveProps returns the ACTIVE property for the crtc.
func (c *Crtc) ActiveProps(active bool) AtomicProp {
	v := uint64(0)
	if active {
		v = 1
	}
	return AtomicProp{ObjID: c.ID, PropID: c.activePropID, Value: v}
}

// ModeIDProp returns the MODE_ID blob property for the crtc.
func (c *Crtc) ModeIDProp(blobID uint32) AtomicProp {
	return AtomicProp{ObjID: c.ID, PropID: c.modeIDPropID, Value: uint64(blobID)}
}

// HasOutFence reports whether this crtc exposes OUT_FENCE_PTR.
func (c *Crtc) HasOutFence() bool { return c.outFencePropID != 0 }

// OutFencePropID exposes the crtc's OUT_FENCE_PTR property id for
// callers that need to pass a pointer-sized out-param to the atomic
// ioctl directly (the ioctl layer, not a plain AtomicProp value).
func (c *Crtc) OutFencePropID() uint32 { return c.outFencePropID }

// ConnectorCrtcProp binds (or unbinds, with crtcID 0) a connector to a crtc.
func (c *Connector) ConnectorCrtcProp(crtcID uint32) AtomicProp {
	return AtomicProp{ObjID: c.ID, PropID: c.crtcIDPropID, Value: uint64(crtcID)}
}

// DPMSProp is a legacy (non-atomic) DPMS property setting, used by
// SetPowerMode on drivers where atomic DPMS isn't exposed per-connector.
func (c *Connector) DPMSProp(on bool) AtomicProp {
	v := uint64(3) // DRM_MODE_DPMS_OFF
	if on {
		v = 0 // DRM_MODE_DPMS_ON
	}
	return AtomicProp{ObjID: c.ID, PropID: c.dpmsPropID, Value: v}
}
