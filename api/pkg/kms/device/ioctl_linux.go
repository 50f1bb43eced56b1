//go:build linux

package device

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl "nr" values, from the kernel's drm.h / drm_mode.h uapi
// headers. The full request number is computed by ioc()/iowr()/iow()
// in ioctl.go from the mirror struct's size, rather than hard-coded
// per architecture as a raw hex constant (cf. the pattern this is
// grounded on, which only ever targeted arm64).
const (
	nrSetMaster      = 0x1e
	nrDropMaster     = 0x1f
	nrSetClientCap   = 0x0d
	nrGetResources   = 0xa0
	nrGetEncoder     = 0xa6
	nrGetConnector   = 0xa7
	nrGetProperty    = 0xaa
	nrGetPlaneRes    = 0xb5
	nrGetPlane       = 0xb6
	nrAddFB2         = 0xb8
	nrObjGetProps    = 0xb9
	nrObjSetProp     = 0xba
	nrAtomic         = 0xbc
	nrCreatePropBlob = 0xbd
	nrDestroyPropBlob = 0xbe
	nrRmFB           = 0xaf
	nrPrimeFDToHandle = 0x2e
	nrGemClose       = 0x09
	nrWaitVBlank     = 0x3a
)

type drmSetClientCap struct {
	Capability uint64
	Value      uint64
}

// drmModeCardRes mirrors struct drm_mode_card_res.
type drmModeCardRes struct {
	FbIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFbs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

// drmModeModeInfo mirrors struct drm_mode_modeinfo.
type drmModeModeInfo struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

// drmModeGetEncoder mirrors struct drm_mode_get_encoder.
type drmModeGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

// drmModeGetConnector mirrors struct drm_mode_get_connector.
type drmModeGetConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MmWidth         uint32
	MmHeight        uint32
	Subpixel        uint32
	Pad             uint32
}

// drmModePropertyEnum mirrors struct drm_mode_property_enum.
type drmModePropertyEnum struct {
	Value uint64
	Name  [32]byte
}

// drmModeGetProperty mirrors struct drm_mode_get_property.
type drmModeGetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [32]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

// drmModeGetPlaneRes mirrors struct drm_mode_get_plane_res.
type drmModeGetPlaneRes struct {
	PlaneIDPtr uint64
	CountPlanes uint32
}

// drmModeGetPlane mirrors struct drm_mode_get_plane.
type drmModeGetPlane struct {
	PlaneID           uint32
	CrtcID            uint32
	FbID              uint32
	PossibleCrtcs     uint32
	GammaSize         uint32
	CountFormatTypes  uint32
	FormatTypePtr     uint64
}

// drmModeObjGetProperties mirrors struct drm_mode_obj_get_properties.
type drmModeObjGetProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
}

// drmModeObjSetProperty mirrors struct drm_mode_obj_set_property.
type drmModeObjSetProperty struct {
	Value   uint64
	PropID  uint32
	ObjID   uint32
	ObjType uint32
}

// drmModeCreatePropBlob mirrors struct drm_mode_create_blob.
type drmModeCreatePropBlob struct {
	DataPtr uint64
	Length  uint32
	BlobID  uint32
}

// drmModeDestroyPropBlob mirrors struct drm_mode_destroy_blob.
type drmModeDestroyPropBlob struct {
	BlobID uint32
}

// drmModeAtomic mirrors struct drm_mode_atomic.
type drmModeAtomic struct {
	Flags           uint32
	CountObjs       uint32
	ObjsPtr         uint64
	CountPropsPtr   uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	Reserved        uint64
	UserData        uint64
}

// drmModeFbCmd2 mirrors struct drm_mode_fb_cmd2 (4 planes).
type drmModeFbCmd2 struct {
	FbID     uint32
	Width    uint32
	Height   uint32
	PixelFmt uint32
	Flags    uint32
	Handles  [4]uint32
	Pitches  [4]uint32
	Offsets  [4]uint32
	Modifier [4]uint64
}

// drmPrimeHandle mirrors struct drm_prime_handle.
type drmPrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

// drmGemClose mirrors struct drm_gem_close.
type drmGemClose struct {
	Handle uint32
	Pad    uint32
}

// drmWaitVBlank mirrors union drm_wait_vblank_request.
type drmWaitVBlank struct {
	Type     uint32
	Sequence uint32
	Signal   uint64
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func openRenderNode(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func setClientCap(f *os.File, cap uint64, value uint64) error {
	req := drmSetClientCap{Capability: cap, Value: value}
	return ioctl(f.Fd(), iow(nrSetClientCap, sizeofU[drmSetClientCap]()), unsafe.Pointer(&req))
}

func setMaster(f *os.File) error {
	return ioctl(f.Fd(), ioR(nrSetMaster), nil)
}

func dropMaster(f *os.File) error {
	return ioctl(f.Fd(), ioR(nrDropMaster), nil)
}

// rawResources performs the two-call GETRESOURCES dance and returns the
// raw id lists plus the device's min/max resolution.
func rawResources(f *os.File) (crtcIDs, encoderIDs, connectorIDs []uint32, minW, maxW, minH, maxH uint32, err error) {
	var res drmModeCardRes
	if err = ioctl(f.Fd(), iowr(nrGetResources, sizeofU[drmModeCardRes]()), unsafe.Pointer(&res)); err != nil {
		return nil, nil, nil, 0, 0, 0, 0, fmt.Errorf("GETRESOURCES(count): %w", err)
	}

	crtcIDs = make([]uint32, res.CountCrtcs)
	encoderIDs = make([]uint32, res.CountEncoders)
	connectorIDs = make([]uint32, res.CountConnectors)

	res2 := drmModeCardRes{
		CountCrtcs:      res.CountCrtcs,
		CountEncoders:   res.CountEncoders,
		CountConnectors: res.CountConnectors,
	}
	if len(crtcIDs) > 0 {
		res2.CrtcIDPtr = uint64(uintptr(unsafe.Pointer(&crtcIDs[0])))
	}
	if len(encoderIDs) > 0 {
		res2.EncoderIDPtr = uint64(uintptr(unsafe.Pointer(&encoderIDs[0])))
	}
	if len(connectorIDs) > 0 {
		res2.ConnectorIDPtr = uint64(uintptr(unsafe.Pointer(&connectorIDs[0])))
	}
	if err = ioctl(f.Fd(), iowr(nrGetResources, sizeofU[drmModeCardRes]()), unsafe.Pointer(&res2)); err != nil {
		return nil, nil, nil, 0, 0, 0, 0, fmt.Errorf("GETRESOURCES(fill): %w", err)
	}
	return crtcIDs, encoderIDs, connectorIDs, res.MinWidth, res.MaxWidth, res.MinHeight, res.MaxHeight, nil
}

func rawEncoder(f *os.File, id uint32) (possibleCrtcs, possibleClones, crtcID uint32, err error) {
	enc := drmModeGetEncoder{EncoderID: id}
	if err = ioctl(f.Fd(), iowr(nrGetEncoder, sizeofU[drmModeGetEncoder]()), unsafe.Pointer(&enc)); err != nil {
		return 0, 0, 0, fmt.Errorf("GETENCODER(%d): %w", id, err)
	}
	return enc.PossibleCrtcs, enc.PossibleClones, enc.CrtcID, nil
}

func rawConnector(f *os.File, id uint32) (rawConnectorInfo, error) {
	var c drmModeGetConnector
	c.ConnectorID = id
	if err := ioctl(f.Fd(), iowr(nrGetConnector, sizeofU[drmModeGetConnector]()), unsafe.Pointer(&c)); err != nil {
		return rawConnectorInfo{}, fmt.Errorf("GETCONNECTOR(%d,count): %w", id, err)
	}

	encoderIDs := make([]uint32, c.CountEncoders)
	modes := make([]drmModeModeInfo, c.CountModes)

	c2 := drmModeGetConnector{
		ConnectorID:   id,
		CountEncoders: c.CountEncoders,
		CountModes:    c.CountModes,
	}
	if len(encoderIDs) > 0 {
		c2.EncodersPtr = uint64(uintptr(unsafe.Pointer(&encoderIDs[0])))
	}
	if len(modes) > 0 {
		c2.ModesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
	}
	if err := ioctl(f.Fd(), iowr(nrGetConnector, sizeofU[drmModeGetConnector]()), unsafe.Pointer(&c2)); err != nil {
		return rawConnectorInfo{}, fmt.Errorf("GETCONNECTOR(%d,fill): %w", id, err)
	}

	return rawConnectorInfo{
		ConnectorType:   c.ConnectorType,
		Connection:      c.Connection,
		MmWidth:         c.MmWidth,
		MmHeight:        c.MmHeight,
		EncoderID:       c.EncoderID,
		PossibleEncoders: encoderIDs,
		Modes:           modes,
	}, nil
}

type rawConnectorInfo struct {
	ConnectorType    uint32
	Connection       uint32
	MmWidth          uint32
	MmHeight         uint32
	EncoderID        uint32
	PossibleEncoders []uint32
	Modes            []drmModeModeInfo
}

const drmModePropEnum = 1 << 2 // DRM_MODE_PROP_ENUM

func rawPropertyInfo(f *os.File, propID uint32) (name string, enumValues map[string]uint64, err error) {
	var p drmModeGetProperty
	p.PropID = propID
	if err = ioctl(f.Fd(), iowr(nrGetProperty, sizeofU[drmModeGetProperty]()), unsafe.Pointer(&p)); err != nil {
		return "", nil, fmt.Errorf("GETPROPERTY(%d,count): %w", propID, err)
	}
	name = trimName(p.Name[:])
	if p.Flags&drmModePropEnum == 0 || p.CountEnumBlobs == 0 {
		return name, nil, nil
	}

	enums := make([]drmModePropertyEnum, p.CountEnumBlobs)
	p2 := drmModeGetProperty{
		PropID:         propID,
		CountEnumBlobs: p.CountEnumBlobs,
		EnumBlobPtr:    uint64(uintptr(unsafe.Pointer(&enums[0]))),
	}
	if err = ioctl(f.Fd(), iowr(nrGetProperty, sizeofU[drmModeGetProperty]()), unsafe.Pointer(&p2)); err != nil {
		return "", nil, fmt.Errorf("GETPROPERTY(%d,fill): %w", propID, err)
	}
	enumValues = make(map[string]uint64, len(enums))
	for _, e := range enums {
		enumValues[trimName(e.Name[:])] = e.Value
	}
	return name, enumValues, nil
}

func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func rawPlaneIDs(f *os.File) ([]uint32, error) {
	var res drmModeGetPlaneRes
	if err := ioctl(f.Fd(), iowr(nrGetPlaneRes, sizeofU[drmModeGetPlaneRes]()), unsafe.Pointer(&res)); err != nil {
		return nil, fmt.Errorf("GETPLANERESOURCES(count): %w", err)
	}
	ids := make([]uint32, res.CountPlanes)
	if len(ids) == 0 {
		return ids, nil
	}
	res2 := drmModeGetPlaneRes{CountPlanes: res.CountPlanes, PlaneIDPtr: uint64(uintptr(unsafe.Pointer(&ids[0])))}
	if err := ioctl(f.Fd(), iowr(nrGetPlaneRes, sizeofU[drmModeGetPlaneRes]()), unsafe.Pointer(&res2)); err != nil {
		return nil, fmt.Errorf("GETPLANERESOURCES(fill): %w", err)
	}
	return ids, nil
}

func rawPlane(f *os.File, id uint32) (possibleCrtcs uint32, formats []uint32, err error) {
	var p drmModeGetPlane
	p.PlaneID = id
	if err = ioctl(f.Fd(), iowr(nrGetPlane, sizeofU[drmModeGetPlane]()), unsafe.Pointer(&p)); err != nil {
		return 0, nil, fmt.Errorf("GETPLANE(%d,count): %w", id, err)
	}
	formats = make([]uint32, p.CountFormatTypes)
	p2 := drmModeGetPlane{PlaneID: id, CountFormatTypes: p.CountFormatTypes}
	if len(formats) > 0 {
		p2.FormatTypePtr = uint64(uintptr(unsafe.Pointer(&formats[0])))
	}
	if err = ioctl(f.Fd(), iowr(nrGetPlane, sizeofU[drmModeGetPlane]()), unsafe.Pointer(&p2)); err != nil {
		return 0, nil, fmt.Errorf("GETPLANE(%d,fill): %w", id, err)
	}
	return p.PossibleCrtcs, formats, nil
}

// rawObjProperties returns the parallel propID/propValue arrays for an
// object, using the generic OBJ_GETPROPERTIES ioctl (works for CRTCs,
// connectors, and planes alike).
func rawObjProperties(f *os.File, objID, objType uint32) (propIDs []uint32, propValues []uint64, err error) {
	var g drmModeObjGetProperties
	g.ObjID = objID
	g.ObjType = objType
	if err = ioctl(f.Fd(), iowr(nrObjGetProps, sizeofU[drmModeObjGetProperties]()), unsafe.Pointer(&g)); err != nil {
		return nil, nil, fmt.Errorf("OBJ_GETPROPERTIES(%d,count): %w", objID, err)
	}
	propIDs = make([]uint32, g.CountProps)
	propValues = make([]uint64, g.CountProps)
	g2 := drmModeObjGetProperties{ObjID: objID, ObjType: objType, CountProps: g.CountProps}
	if g.CountProps > 0 {
		g2.PropsPtr = uint64(uintptr(unsafe.Pointer(&propIDs[0])))
		g2.PropValuesPtr = uint64(uintptr(unsafe.Pointer(&propValues[0])))
	}
	if err = ioctl(f.Fd(), iowr(nrObjGetProps, sizeofU[drmModeObjGetProperties]()), unsafe.Pointer(&g2)); err != nil {
		return nil, nil, fmt.Errorf("OBJ_GETPROPERTIES(%d,fill): %w", objID, err)
	}
	return propIDs, propValues, nil
}

func rawSetObjProperty(f *os.File, objID, objType, propID uint32, value uint64) error {
	req := drmModeObjSetProperty{Value: value, PropID: propID, ObjID: objID, ObjType: objType}
	if err := ioctl(f.Fd(), iowr(nrObjSetProp, sizeofU[drmModeObjSetProperty]()), unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("OBJ_SETPROPERTY(%d,%d): %w", objID, propID, err)
	}
	return nil
}

func rawCreatePropertyBlob(f *os.File, data []byte) (uint32, error) {
	req := drmModeCreatePropBlob{Length: uint32(len(data))}
	if len(data) > 0 {
		req.DataPtr = uint64(uintptr(unsafe.Pointer(&data[0])))
	}
	if err := ioctl(f.Fd(), iowr(nrCreatePropBlob, sizeofU[drmModeCreatePropBlob]()), unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("CREATEPROPBLOB: %w", err)
	}
	return req.BlobID, nil
}

func rawDestroyPropertyBlob(f *os.File, id uint32) error {
	req := drmModeDestroyPropBlob{BlobID: id}
	if err := ioctl(f.Fd(), iowr(nrDestroyPropBlob, sizeofU[drmModeDestroyPropBlob]()), unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("DESTROYPROPBLOB(%d): %w", id, err)
	}
	return nil
}

// AtomicProp is one (object, property, value) triple in an atomic
// commit request.
type AtomicProp struct {
	ObjID  uint32
	PropID uint32
	Value  uint64
}

func rawAtomicCommit(f *os.File, props []AtomicProp, flags uint32) error {
	if len(props) == 0 {
		return nil
	}
	objIDs := make([]uint32, 0, len(props))
	countPerObj := make([]uint32, 0, len(props))
	propIDs := make([]uint32, 0, len(props))
	propValues := make([]uint64, 0, len(props))

	// Group consecutive props with the same object, as the kernel
	// requires one count-per-object entry per distinct object in order.
	i := 0
	for i < len(props) {
		obj := props[i].ObjID
		n := uint32(0)
		for i < len(props) && props[i].ObjID == obj {
			propIDs = append(propIDs, props[i].PropID)
			propValues = append(propValues, props[i].Value)
			n++
			i++
		}
		objIDs = append(objIDs, obj)
		countPerObj = append(countPerObj, n)
	}

	req := drmModeAtomic{
		Flags:     flags,
		CountObjs: uint32(len(objIDs)),
		ObjsPtr:   uint64(uintptr(unsafe.Pointer(&objIDs[0]))),
		CountPropsPtr: uint64(uintptr(unsafe.Pointer(&countPerObj[0]))),
		PropsPtr:  uint64(uintptr(unsafe.Pointer(&propIDs[0]))),
		PropValuesPtr: uint64(uintptr(unsafe.Pointer(&propValues[0]))),
	}
	if err := ioctl(f.Fd(), iowr(nrAtomic, sizeofU[drmModeAtomic]()), unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("ATOMIC: %w", err)
	}
	return nil
}

func rawAddFB2(f *os.File, width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error) {
	req := drmModeFbCmd2{
		Width:    width,
		Height:   height,
		PixelFmt: fourcc,
		Handles:  handles,
		Pitches:  pitches,
		Offsets:  offsets,
	}
	if withModifiers {
		const drmModeFBModifiers = 1 << 1
		req.Flags = drmModeFBModifiers
		req.Modifier = modifiers
	}
	if err := ioctl(f.Fd(), iowr(nrAddFB2, sizeofU[drmModeFbCmd2]()), unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("ADDFB2: %w", err)
	}
	return req.FbID, nil
}

func rawRmFB(f *os.File, fbID uint32) error {
	id := fbID
	if err := ioctl(f.Fd(), iowr(nrRmFB, unsafe.Sizeof(id)), unsafe.Pointer(&id)); err != nil {
		return fmt.Errorf("RMFB(%d): %w", fbID, err)
	}
	return nil
}

func rawPrimeFDToHandle(f *os.File, primeFD int32) (uint32, error) {
	req := drmPrimeHandle{FD: primeFD}
	if err := ioctl(f.Fd(), iowr(nrPrimeFDToHandle, sizeofU[drmPrimeHandle]()), unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("PRIME_FD_TO_HANDLE: %w", err)
	}
	return req.Handle, nil
}

func rawGemClose(f *os.File, handle uint32) error {
	req := drmGemClose{Handle: handle}
	if err := ioctl(f.Fd(), iow(nrGemClose, sizeofU[drmGemClose]()), unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("GEM_CLOSE(%d): %w", handle, err)
	}
	return nil
}

func rawWaitVBlank(f *os.File, highCrtc uint32) error {
	const vblankRelative = 0x1
	const vblankHighCrtcMask = 0x3e000000
	req := drmWaitVBlank{
		Type:     vblankRelative | (highCrtc & vblankHighCrtcMask),
		Sequence: 1,
	}
	if err := ioctl(f.Fd(), iowr(nrWaitVBlank, sizeofU[drmWaitVBlank]()), unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("WAIT_VBLANK: %w", err)
	}
	return nil
}
