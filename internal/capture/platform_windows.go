//go:build windows

package capture

import (
	"errors"
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
)

// sFalse is returned by CoInitializeEx when COM is already initialized on
// the thread in the same apartment.
const sFalse = 1

type comContext struct{}

// AcquirePlatformContext locks the calling goroutine to its OS thread and
// initializes COM in the multithreaded apartment.
func AcquirePlatformContext() (PlatformContext, error) {
	runtime.LockOSThread()
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != sFalse {
			runtime.UnlockOSThread()
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}
	return comContext{}, nil
}

// Release uninitializes COM and unlocks the thread.
func (comContext) Release() {
	ole.CoUninitialize()
	runtime.UnlockOSThread()
}
