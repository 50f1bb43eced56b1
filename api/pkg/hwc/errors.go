package hwc

import "github.com/helixml/drmhwc/api/pkg/kms/kmserrors"

// HWC2Error mirrors the hwc2_error_t enum values the outer ABI surface
// (out of scope here) needs to return; ErrorCode lets that surface map
// any error this package produces without string matching.
type HWC2Error int32

const (
	HWC2ErrorNone HWC2Error = iota
	HWC2ErrorBadConfig
	HWC2ErrorBadDisplay
	HWC2ErrorBadLayer
	HWC2ErrorBadParameter
	HWC2ErrorHasChanges
	HWC2ErrorNoResources
	HWC2ErrorNotValidated
	HWC2ErrorUnsupported
)

// ErrorCode recovers the HWC2-shaped error code for err, defaulting to
// Unsupported for anything this package didn't originate.
func ErrorCode(err error) HWC2Error {
	if err == nil {
		return HWC2ErrorNone
	}
	switch kmserrors.As(err) {
	case kmserrors.KindBadConfig:
		return HWC2ErrorBadConfig
	case kmserrors.KindBadDisplay:
		return HWC2ErrorBadDisplay
	case kmserrors.KindBadLayer:
		return HWC2ErrorBadLayer
	case kmserrors.KindBadParameter:
		return HWC2ErrorBadParameter
	case kmserrors.KindNoResources:
		return HWC2ErrorNoResources
	case kmserrors.KindNoDevice:
		return HWC2ErrorNoResources
	case kmserrors.KindTimeout, kmserrors.KindInterrupted:
		return HWC2ErrorUnsupported
	default:
		return HWC2ErrorUnsupported
	}
}
