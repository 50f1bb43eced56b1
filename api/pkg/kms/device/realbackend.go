package device

import (
	"os"
	"strings"
)

// realBackend issues real ioctls against an open render-node fd. It is
// the Backend implementation Open() uses; devicetest.Fake is the one
// unit tests use.
type realBackend struct {
	f *os.File
}

func openRealBackend(path string) (*realBackend, error) {
	f, err := openRenderNode(path)
	if err != nil {
		return nil, err
	}
	return &realBackend{f: f}, nil
}

func (b *realBackend) Close() error { return b.f.Close() }

func (b *realBackend) SetClientCap(cap uint64, value uint64) error {
	return setClientCap(b.f, cap, value)
}

func (b *realBackend) SetMaster() error  { return setMaster(b.f) }
func (b *realBackend) DropMaster() error { return dropMaster(b.f) }

func (b *realBackend) Resources() (crtcIDs, encoderIDs, connectorIDs []uint32, minW, maxW, minH, maxH uint32, err error) {
	return rawResources(b.f)
}

func (b *realBackend) Encoder(id uint32) (possibleCrtcs, possibleClones, crtcID uint32, err error) {
	return rawEncoder(b.f, id)
}

func (b *realBackend) Connector(id uint32) (ConnectorInfo, error) {
	raw, err := rawConnector(b.f, id)
	if err != nil {
		return ConnectorInfo{}, err
	}
	modes := make([]ModeInfo, len(raw.Modes))
	for i, m := range raw.Modes {
		modes[i] = ModeInfo{
			ClockKHz:   m.Clock,
			Hdisplay:   m.Hdisplay,
			HsyncStart: m.HsyncStart,
			HsyncEnd:   m.HsyncEnd,
			Htotal:     m.Htotal,
			Hskew:      m.Hskew,
			Vdisplay:   m.Vdisplay,
			VsyncStart: m.VsyncStart,
			VsyncEnd:   m.VsyncEnd,
			Vtotal:     m.Vtotal,
			Vscan:      m.Vscan,
			VRefresh:   m.Vrefresh,
			Flags:      m.Flags,
			Type:       m.Type,
			Name:       strings.TrimRight(string(m.Name[:]), "\x00"),
		}
	}
	return ConnectorInfo{
		ConnectorType:    raw.ConnectorType,
		Connection:       raw.Connection,
		MmWidth:          raw.MmWidth,
		MmHeight:         raw.MmHeight,
		EncoderID:        raw.EncoderID,
		PossibleEncoders: raw.PossibleEncoders,
		Modes:            modes,
	}, nil
}

func (b *realBackend) PlaneIDs() ([]uint32, error) { return rawPlaneIDs(b.f) }

func (b *realBackend) Plane(id uint32) (possibleCrtcs uint32, formats []uint32, err error) {
	return rawPlane(b.f, id)
}

func (b *realBackend) ObjProperties(objID, objType uint32) ([]uint32, []uint64, error) {
	return rawObjProperties(b.f, objID, objType)
}

func (b *realBackend) SetObjProperty(objID, objType, propID uint32, value uint64) error {
	return rawSetObjProperty(b.f, objID, objType, propID, value)
}

func (b *realBackend) PropertyInfo(propID uint32) (string, map[string]uint64, error) {
	return rawPropertyInfo(b.f, propID)
}

func (b *realBackend) CreatePropertyBlob(data []byte) (uint32, error) {
	return rawCreatePropertyBlob(b.f, data)
}

func (b *realBackend) DestroyPropertyBlob(id uint32) error {
	return rawDestroyPropertyBlob(b.f, id)
}

func (b *realBackend) AtomicCommit(props []AtomicProp, flags uint32) error {
	return rawAtomicCommit(b.f, props, flags)
}

func (b *realBackend) AddFB2(width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error) {
	return rawAddFB2(b.f, width, height, fourcc, handles, pitches, offsets, modifiers, withModifiers)
}

func (b *realBackend) RmFB(fbID uint32) error { return rawRmFB(b.f, fbID) }

func (b *realBackend) PrimeFDToHandle(primeFD int32) (uint32, error) {
	return rawPrimeFDToHandle(b.f, primeFD)
}

func (b *realBackend) GemClose(handle uint32) error { return rawGemClose(b.f, handle) }

func (b *realBackend) WaitVBlank(highCrtc uint32) error { return rawWaitVBlank(b.f, highCrtc) }
