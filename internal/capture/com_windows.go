//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

const vtblQueryInterface = 0

// comGUID is a COM interface identifier.
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comCall invokes the vtable method at idx on obj. A negative HRESULT is
// returned as an error carrying the raw code.
func comCall(obj uintptr, idx int, args ...uintptr) (uintptr, error) {
	all := make([]uintptr, 0, 1+len(args))
	all = append(all, obj)
	all = append(all, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, idx), all...)
	if int32(ret) < 0 {
		return ret, hresultError{idx: idx, hr: uint32(ret)}
	}
	return ret, nil
}

// comRelease calls IUnknown::Release.
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, 2), obj)
	}
}

type hresultError struct {
	idx int
	hr  uint32
}

func (e hresultError) Error() string {
	return fmt.Sprintf("COM vtable[%d] HRESULT 0x%08X", e.idx, e.hr)
}
