//go:build !windows

package capture

// AcquirePlatformContext is a no-op where capture needs no per-thread setup.
func AcquirePlatformContext() (PlatformContext, error) {
	return noopContext{}, nil
}
