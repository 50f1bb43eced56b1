// Package devicetest provides an in-memory device.Backend so the
// device/planner/compositor/hwc packages can be unit tested without a
// real /dev/dri node.
package devicetest

import (
	"fmt"
	"sort"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
)

type prop struct {
	id    uint32
	name  string
	value uint64
	enum  map[string]uint64
}

type object struct {
	id    uint32
	props []*prop
}

func (o *object) propByName(name string) *prop {
	for _, p := range o.props {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (o *object) addProp(id uint32, name string, value uint64, enum map[string]uint64) *prop {
	p := &prop{id: id, name: name, value: value, enum: enum}
	o.props = append(o.props, p)
	return p
}

// Fake is a programmable device.Backend. Create one with New (the zero
// value has nil maps), then use the builder methods to populate a
// topology before passing it to device.OpenWithBackend.
type Fake struct {
	closed bool

	minW, maxW, minH, maxH uint32

	crtcIDs      []uint32
	encoderIDs   []uint32
	connectorIDs []uint32
	planeIDs     []uint32

	crtcs      map[uint32]*object
	encoders   map[uint32]*encoder
	connectors map[uint32]*device.ConnectorInfo
	planes     map[uint32]*plane

	nextPropID uint32
	nextBlobID uint32
	nextFBID   uint32
	nextHandle uint32

	blobs map[uint32][]byte

	// Commits records every AtomicCommit call, in order, for assertions.
	Commits []CommitRecord

	// VBlankCalls counts WaitVBlank invocations per high-crtc value.
	VBlankCalls map[uint32]int

	FailAtomicCommit error
	FailAddFB2       error
}

// CommitRecord is one recorded AtomicCommit invocation.
type CommitRecord struct {
	Props []device.AtomicProp
	Flags uint32
}

type encoder struct {
	possibleCrtcs  uint32
	possibleClones uint32
	crtcID         uint32
}

type plane struct {
	possibleCrtcs uint32
	formats       []uint32
	obj           *object
}

// New returns an empty Fake with the given screen size bounds.
func New(minW, maxW, minH, maxH uint32) *Fake {
	return &Fake{
		minW: minW, maxW: maxW, minH: minH, maxH: maxH,
		crtcs:       make(map[uint32]*object),
		encoders:    make(map[uint32]*encoder),
		connectors:  make(map[uint32]*device.ConnectorInfo),
		planes:      make(map[uint32]*plane),
		blobs:       make(map[uint32][]byte),
		VBlankCalls: make(map[uint32]int),
		nextPropID:  1,
		nextFBID:    100,
		nextHandle:  1000,
	}
}

func (f *Fake) allocProp() uint32 {
	id := f.nextPropID
	f.nextPropID++
	return id
}

// AddCrtc registers a CRTC id with the standard ACTIVE/MODE_ID/OUT_FENCE_PTR props.
func (f *Fake) AddCrtc(id uint32) *Fake {
	o := &object{id: id}
	o.addProp(f.allocProp(), "ACTIVE", 0, nil)
	o.addProp(f.allocProp(), "MODE_ID", 0, nil)
	o.addProp(f.allocProp(), "OUT_FENCE_PTR", 0, nil)
	f.crtcs[id] = o
	f.crtcIDs = append(f.crtcIDs, id)
	return f
}

// AddEncoder registers an encoder with the crtcs it can drive, given as
// a slice of crtc ids (converted internally to a possible_crtcs bitmask
// against the current crtc order).
func (f *Fake) AddEncoder(id uint32, possibleCrtcIDs []uint32) *Fake {
	var mask uint32
	for _, c := range possibleCrtcIDs {
		if i := indexOf(f.crtcIDs, c); i >= 0 {
			mask |= 1 << uint(i)
		}
	}
	f.encoders[id] = &encoder{possibleCrtcs: mask}
	f.encoderIDs = append(f.encoderIDs, id)
	return f
}

func indexOf(s []uint32, v uint32) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// ConnectorOpt configures AddConnector.
type ConnectorOpt func(*device.ConnectorInfo)

// WithMode appends a mode, marking it preferred if preferred is true.
func WithMode(m device.ModeInfo, preferred bool) ConnectorOpt {
	return func(ci *device.ConnectorInfo) {
		if preferred {
			m.Type |= 1 << 3
		}
		ci.Modes = append(ci.Modes, m)
	}
}

// AddConnector registers a connector of the given DRM connector type
// (e.g. 11 for HDMI-A, 14 for eDP, 18 for writeback) and connection
// state (1=connected, 2=disconnected), wired to possibleEncoders.
func (f *Fake) AddConnector(id uint32, drmType uint32, connection uint32, mmW, mmH uint32, possibleEncoders []uint32, opts ...ConnectorOpt) *Fake {
	ci := &device.ConnectorInfo{
		ConnectorType:    drmType,
		Connection:       connection,
		MmWidth:          mmW,
		MmHeight:         mmH,
		PossibleEncoders: possibleEncoders,
	}
	for _, opt := range opts {
		opt(ci)
	}
	f.connectors[id] = ci
	f.connectorIDs = append(f.connectorIDs, id)

	o := &object{id: id}
	o.addProp(f.allocProp(), "CRTC_ID", 0, nil)
	o.addProp(f.allocProp(), "DPMS", 0, nil)
	if drmType == 18 {
		o.addProp(f.allocProp(), "WRITEBACK_PIXEL_FORMATS", 0, nil)
		o.addProp(f.allocProp(), "WRITEBACK_FB_ID", 0, nil)
		o.addProp(f.allocProp(), "WRITEBACK_OUT_FENCE_PTR", 0, nil)
	}
	f.crtcs[0x80000000|id] = o // stash connector props in the shared object table under a disjoint key space
	return f
}

type planeConfig struct {
	rotation bool
	blend    bool
	alpha    bool
}

// PlaneOpt configures AddPlane's optional capability properties.
type PlaneOpt func(*planeConfig)

// WithoutRotation omits the rotation property, simulating a plane whose
// hardware can't rotate.
func WithoutRotation() PlaneOpt { return func(c *planeConfig) { c.rotation = false } }

// WithoutBlendMode omits the pixel blend mode property, simulating a
// plane that can only scan out opaque or premultiplied-by-driver content.
func WithoutBlendMode() PlaneOpt { return func(c *planeConfig) { c.blend = false } }

// WithoutAlpha omits the plane-wide alpha property.
func WithoutAlpha() PlaneOpt { return func(c *planeConfig) { c.alpha = false } }

// AddPlane registers a plane usable on possibleCrtcIDs, of the given
// planeType ("Primary", "Overlay", "Cursor"), supporting formats. By
// default the plane exposes rotation, blend mode and alpha properties;
// pass WithoutRotation/WithoutBlendMode/WithoutAlpha to omit one.
func (f *Fake) AddPlane(id uint32, planeType string, possibleCrtcIDs []uint32, formats []uint32, opts ...PlaneOpt) *Fake {
	var mask uint32
	for _, c := range possibleCrtcIDs {
		if i := indexOf(f.crtcIDs, c); i >= 0 {
			mask |= 1 << uint(i)
		}
	}
	cfg := planeConfig{rotation: true, blend: true, alpha: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &object{id: id}
	typeEnum := map[string]uint64{"Primary": 1, "Overlay": 0, "Cursor": 2}
	o.addProp(f.allocProp(), "type", typeEnum[planeType], typeEnum)
	o.addProp(f.allocProp(), "CRTC_ID", 0, nil)
	o.addProp(f.allocProp(), "FB_ID", 0, nil)
	o.addProp(f.allocProp(), "CRTC_X", 0, nil)
	o.addProp(f.allocProp(), "CRTC_Y", 0, nil)
	o.addProp(f.allocProp(), "CRTC_W", 0, nil)
	o.addProp(f.allocProp(), "CRTC_H", 0, nil)
	o.addProp(f.allocProp(), "SRC_X", 0, nil)
	o.addProp(f.allocProp(), "SRC_Y", 0, nil)
	o.addProp(f.allocProp(), "SRC_W", 0, nil)
	o.addProp(f.allocProp(), "SRC_H", 0, nil)
	if cfg.rotation {
		o.addProp(f.allocProp(), "rotation", 1, map[string]uint64{"rotate-0": 1, "rotate-90": 2, "rotate-180": 4, "rotate-270": 8, "reflect-x": 16, "reflect-y": 32})
	}
	if cfg.blend {
		o.addProp(f.allocProp(), "pixel blend mode", 0, map[string]uint64{"None": 0, "Pre-multiplied": 1, "Coverage": 2})
	}
	if cfg.alpha {
		o.addProp(f.allocProp(), "alpha", 0xffff, nil)
	}
	o.addProp(f.allocProp(), "zpos", uint64(len(f.planeIDs)), nil)
	o.addProp(f.allocProp(), "IN_FENCE_FD", 0xffffffff, nil)

	f.planes[id] = &plane{possibleCrtcs: mask, formats: formats, obj: o}
	f.planeIDs = append(f.planeIDs, id)
	return f
}

func (f *Fake) Close() error { f.closed = true; return nil }

func (f *Fake) SetClientCap(cap uint64, value uint64) error { return nil }
func (f *Fake) SetMaster() error                            { return nil }
func (f *Fake) DropMaster() error                           { return nil }

func (f *Fake) Resources() (crtcIDs, encoderIDs, connectorIDs []uint32, minW, maxW, minH, maxH uint32, err error) {
	return f.crtcIDs, f.encoderIDs, f.connectorIDs, f.minW, f.maxW, f.minH, f.maxH, nil
}

func (f *Fake) Encoder(id uint32) (possibleCrtcs, possibleClones, crtcID uint32, err error) {
	e, ok := f.encoders[id]
	if !ok {
		return 0, 0, 0, fmt.Errorf("no such encoder %d", id)
	}
	return e.possibleCrtcs, e.possibleClones, e.crtcID, nil
}

func (f *Fake) Connector(id uint32) (device.ConnectorInfo, error) {
	ci, ok := f.connectors[id]
	if !ok {
		return device.ConnectorInfo{}, fmt.Errorf("no such connector %d", id)
	}
	return *ci, nil
}

func (f *Fake) PlaneIDs() ([]uint32, error) { return f.planeIDs, nil }

func (f *Fake) Plane(id uint32) (possibleCrtcs uint32, formats []uint32, err error) {
	p, ok := f.planes[id]
	if !ok {
		return 0, nil, fmt.Errorf("no such plane %d", id)
	}
	return p.possibleCrtcs, p.formats, nil
}

func (f *Fake) objFor(objID, objType uint32) (*object, bool) {
	const (
		objCrtc      = 0xcccccccc
		objConnector = 0xc0c0c0c0
		objPlane     = 0xeeeeeeee
	)
	switch objType {
	case objCrtc:
		o, ok := f.crtcs[objID]
		return o, ok
	case objConnector:
		o, ok := f.crtcs[0x80000000|objID]
		return o, ok
	case objPlane:
		p, ok := f.planes[objID]
		if !ok {
			return nil, false
		}
		return p.obj, true
	default:
		return nil, false
	}
}

func (f *Fake) ObjProperties(objID, objType uint32) (propIDs []uint32, propValues []uint64, err error) {
	o, ok := f.objFor(objID, objType)
	if !ok {
		return nil, nil, fmt.Errorf("no such object %d/%d", objID, objType)
	}
	for _, p := range o.props {
		propIDs = append(propIDs, p.id)
		propValues = append(propValues, p.value)
	}
	return propIDs, propValues, nil
}

func (f *Fake) SetObjProperty(objID, objType, propID uint32, value uint64) error {
	o, ok := f.objFor(objID, objType)
	if !ok {
		return fmt.Errorf("no such object %d/%d", objID, objType)
	}
	for _, p := range o.props {
		if p.id == propID {
			p.value = value
			return nil
		}
	}
	return fmt.Errorf("no such property %d on %d", propID, objID)
}

func (f *Fake) PropertyInfo(propID uint32) (name string, enumValues map[string]uint64, err error) {
	for _, o := range f.crtcs {
		for _, p := range o.props {
			if p.id == propID {
				return p.name, p.enum, nil
			}
		}
	}
	for _, p := range f.planes {
		for _, pr := range p.obj.props {
			if pr.id == propID {
				return pr.name, pr.enum, nil
			}
		}
	}
	return "", nil, fmt.Errorf("no such property %d", propID)
}

func (f *Fake) CreatePropertyBlob(data []byte) (uint32, error) {
	f.nextBlobID++
	id := f.nextBlobID
	cp := make([]byte, len(data))
	copy(cp, data)
	f.blobs[id] = cp
	return id, nil
}

func (f *Fake) DestroyPropertyBlob(id uint32) error {
	delete(f.blobs, id)
	return nil
}

func (f *Fake) AtomicCommit(props []device.AtomicProp, flags uint32) error {
	if f.FailAtomicCommit != nil {
		return f.FailAtomicCommit
	}
	cp := make([]device.AtomicProp, len(props))
	copy(cp, props)
	f.Commits = append(f.Commits, CommitRecord{Props: cp, Flags: flags})

	byObj := make(map[uint32][]device.AtomicProp)
	for _, p := range props {
		byObj[p.ObjID] = append(byObj[p.ObjID], p)
	}
	for objID, objProps := range byObj {
		objType, ok := f.guessObjType(objID)
		if !ok {
			continue
		}
		for _, p := range objProps {
			_ = f.SetObjProperty(objID, objType, p.PropID, p.Value)
		}
	}
	return nil
}

func (f *Fake) guessObjType(objID uint32) (uint32, bool) {
	const (
		objCrtc      = 0xcccccccc
		objConnector = 0xc0c0c0c0
		objPlane     = 0xeeeeeeee
	)
	if _, ok := f.crtcs[objID]; ok {
		return objCrtc, true
	}
	if _, ok := f.crtcs[0x80000000|objID]; ok {
		return objConnector, true
	}
	if _, ok := f.planes[objID]; ok {
		return objPlane, true
	}
	return 0, false
}

func (f *Fake) AddFB2(width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error) {
	if f.FailAddFB2 != nil {
		return 0, f.FailAddFB2
	}
	f.nextFBID++
	return f.nextFBID, nil
}

func (f *Fake) RmFB(fbID uint32) error { return nil }

func (f *Fake) PrimeFDToHandle(primeFD int32) (uint32, error) {
	f.nextHandle++
	return f.nextHandle, nil
}

func (f *Fake) GemClose(handle uint32) error { return nil }

func (f *Fake) WaitVBlank(highCrtc uint32) error {
	f.VBlankCalls[highCrtc]++
	return nil
}

// SetConnectionState overwrites a connector's reported connection value
// (1=connected, 2=disconnected), simulating a hotplug/unplug for tests
// that poll device.Device.UpdateModes.
func (f *Fake) SetConnectionState(connID uint32, connection uint32) {
	if ci, ok := f.connectors[connID]; ok {
		ci.Connection = connection
	}
}

// SortedConnectorIDs returns the connector ids the fake knows about, in
// ascending order, for test assertions about display routing order.
func (f *Fake) SortedConnectorIDs() []uint32 {
	out := append([]uint32{}, f.connectorIDs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
