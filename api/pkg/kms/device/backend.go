package device

// ModeInfo is the architecture-independent, exported form of a kernel
// drm_mode_modeinfo, used by both the real ioctl backend and
// devicetest's fake so tests never need unsafe struct layouts.
type ModeInfo struct {
	ClockKHz                                        uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew    uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan    uint16
	VRefresh                                        uint32
	Flags                                           uint32
	Type                                            uint32
	Name                                            string
}

// ConnectorInfo is everything GETCONNECTOR reports about one connector.
type ConnectorInfo struct {
	ConnectorType    uint32
	Connection       uint32
	MmWidth, MmHeight uint32
	EncoderID        uint32
	PossibleEncoders []uint32
	Modes            []ModeInfo
}

// Backend abstracts the raw DRM ioctl surface the device topology needs.
// The production implementation (realBackend) issues real ioctls; tests
// use devicetest.Fake, an in-memory topology satisfying the same
// interface, so package device's init/routing/hotplug logic is
// testable without a GPU.
type Backend interface {
	Close() error

	SetClientCap(cap uint64, value uint64) error
	SetMaster() error
	DropMaster() error

	Resources() (crtcIDs, encoderIDs, connectorIDs []uint32, minW, maxW, minH, maxH uint32, err error)
	Encoder(id uint32) (possibleCrtcs, possibleClones, crtcID uint32, err error)
	Connector(id uint32) (ConnectorInfo, error)
	PlaneIDs() ([]uint32, error)
	Plane(id uint32) (possibleCrtcs uint32, formats []uint32, err error)

	ObjProperties(objID, objType uint32) (propIDs []uint32, propValues []uint64, err error)
	SetObjProperty(objID, objType, propID uint32, value uint64) error
	// PropertyInfo returns the property's name and, for enum properties,
	// its name->value table (e.g. rotation's "rotate-0"/"reflect-x").
	PropertyInfo(propID uint32) (name string, enumValues map[string]uint64, err error)

	CreatePropertyBlob(data []byte) (uint32, error)
	DestroyPropertyBlob(id uint32) error

	AtomicCommit(props []AtomicProp, flags uint32) error

	AddFB2(width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error)
	RmFB(fbID uint32) error

	PrimeFDToHandle(primeFD int32) (uint32, error)
	GemClose(handle uint32) error

	WaitVBlank(highCrtc uint32) error
}
