//go:build !linux

package device

import (
	"fmt"
	"os"
)

// Stubs for non-Linux platforms. drmhwc only talks to real DRM/KMS on
// Linux; this keeps the module buildable elsewhere for unit tests that
// only exercise the fake backend.

var errUnsupportedPlatform = fmt.Errorf("DRM ioctls only supported on Linux")

func openRenderNode(path string) (*os.File, error) { return nil, errUnsupportedPlatform }
func setClientCap(f *os.File, cap uint64, value uint64) error { return errUnsupportedPlatform }
func setMaster(f *os.File) error  { return errUnsupportedPlatform }
func dropMaster(f *os.File) error { return errUnsupportedPlatform }

func rawResources(f *os.File) (crtcIDs, encoderIDs, connectorIDs []uint32, minW, maxW, minH, maxH uint32, err error) {
	return nil, nil, nil, 0, 0, 0, 0, errUnsupportedPlatform
}

func rawEncoder(f *os.File, id uint32) (possibleCrtcs, possibleClones, crtcID uint32, err error) {
	return 0, 0, 0, errUnsupportedPlatform
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

func rawConnector(f *os.File, id uint32) (rawConnectorInfo, error) {
	return rawConnectorInfo{}, errUnsupportedPlatform
}

func rawPropertyInfo(f *os.File, propID uint32) (name string, enumValues map[string]uint64, err error) {
	return "", nil, errUnsupportedPlatform
}

func rawPlaneIDs(f *os.File) ([]uint32, error) { return nil, errUnsupportedPlatform }

func rawPlane(f *os.File, id uint32) (possibleCrtcs uint32, formats []uint32, err error) {
	return 0, nil, errUnsupportedPlatform
}

func rawObjProperties(f *os.File, objID, objType uint32) (propIDs []uint32, propValues []uint64, err error) {
	return nil, nil, errUnsupportedPlatform
}

func rawSetObjProperty(f *os.File, objID, objType, propID uint32, value uint64) error {
	return errUnsupportedPlatform
}

func rawCreatePropertyBlob(f *os.File, data []byte) (uint32, error) { return 0, errUnsupportedPlatform }
func rawDestroyPropertyBlob(f *os.File, id uint32) error            { return errUnsupportedPlatform }

// AtomicProp is one (object, property, value) triple in an atomic
// commit request.
type AtomicProp struct {
	ObjID  uint32
	PropID uint32
	Value  uint64
}

func rawAtomicCommit(f *os.File, props []AtomicProp, flags uint32) error {
	return errUnsupportedPlatform
}

func rawAddFB2(f *os.File, width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error) {
	return 0, errUnsupportedPlatform
}

func rawRmFB(f *os.File, fbID uint32) error { return errUnsupportedPlatform }

func rawPrimeFDToHandle(f *os.File, primeFD int32) (uint32, error) {
	return 0, errUnsupportedPlatform
}

func rawGemClose(f *os.File, handle uint32) error { return errUnsupportedPlatform }

func rawWaitVBlank(f *os.File, highCrtc uint32) error { return errUnsupportedPlatform }
