package device

import "unsafe"

// Linux ioctl request encoding, mirrored from <asm-generic/ioctl.h>.
// The DRM uapi headers build every DRM_IOCTL_* constant from these
// macros; computing them from the mirror struct's actual size (instead
// of hard-coding one architecture's magic number, as a C client would)
// keeps ioctl_linux.go correct on both amd64 and arm64 without a second
// set of constants per arch.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	drmIOCTLBase = 'd'
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func iowr(nr uintptr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, drmIOCTLBase, nr, size)
}

func iow(nr uintptr, size uintptr) uintptr {
	return ioc(iocWrite, drmIOCTLBase, nr, size)
}

func ioR(nr uintptr) uintptr {
	return ioc(iocNone, drmIOCTLBase, nr, 0)
}

func sizeofU[T any]() uintptr {
	var v T
	return unsafe.Sizeof(v)
}
