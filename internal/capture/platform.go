package capture

// PlatformContext is the per-thread state capture APIs need. Acquire it on
// the goroutine that will capture and Release it on the same goroutine.
type PlatformContext interface {
	Release()
}

type noopContext struct{}

func (noopContext) Release() {}
