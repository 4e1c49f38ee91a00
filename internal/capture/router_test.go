package capture

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/screenmask/internal/display"
)

type stubBackend struct {
	method Method
	frame  *Frame
	err    error
	calls  int
	closed bool
}

func (b *stubBackend) Method() Method { return b.method }

func (b *stubBackend) Capture(display.Descriptor) (*Frame, error) {
	b.calls++
	return b.frame, b.err
}

func (b *stubBackend) Close() error {
	b.closed = true
	return nil
}

func contentFrame() *Frame {
	f := solidFrame(16, 16, 10, 20, 30, 255)
	f.Pix[len(f.Pix)-4] = 99
	return f
}

func stubs(opt, std, alt *stubBackend) []Backend {
	return []Backend{opt, std, alt}
}

func TestRouterReturnsFirstValidFrame(t *testing.T) {
	boom := errors.New("boom")
	opt := &stubBackend{method: MethodOptimized, err: boom}
	std := &stubBackend{method: MethodStandard, frame: contentFrame()}
	alt := &stubBackend{method: MethodAlternative, frame: contentFrame()}
	gdi := &stubBackend{method: MethodGDI, frame: contentFrame()}

	sel := NewSelector()
	r := NewRouter(sel, stubs(opt, std, alt), gdi)

	frame, err := r.Capture(testDisplay)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if frame != std.frame {
		t.Error("did not return the standard frame")
	}
	if alt.calls != 0 || gdi.calls != 0 {
		t.Error("methods after the first success were tried")
	}

	st := sel.Snapshot()[testDisplay.ID]
	if st.Successes[MethodStandard] != 1 || st.Successes[MethodOptimized] != 0 {
		t.Errorf("counters = %v", st.Successes)
	}
}

func TestRouterRejectsBlankFrames(t *testing.T) {
	opt := &stubBackend{method: MethodOptimized, frame: NewFrame(16, 16)}
	std := &stubBackend{method: MethodStandard, frame: solidFrame(16, 16, 1, 1, 1, 1)}
	alt := &stubBackend{method: MethodAlternative, frame: contentFrame()}

	sel := NewSelector()
	r := NewRouter(sel, stubs(opt, std, alt), nil)

	frame, err := r.Capture(testDisplay)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if frame != alt.frame {
		t.Error("blank frame was not rejected")
	}
}

func TestRouterFallbackSkipsValidation(t *testing.T) {
	boom := errors.New("boom")
	opt := &stubBackend{method: MethodOptimized, err: boom}
	std := &stubBackend{method: MethodStandard, err: boom}
	alt := &stubBackend{method: MethodAlternative, err: boom}
	blank := NewFrame(16, 16)
	gdi := &stubBackend{method: MethodGDI, frame: blank}

	r := NewRouter(NewSelector(), stubs(opt, std, alt), gdi)
	frame, err := r.Capture(testDisplay)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if frame != blank {
		t.Error("fallback frame not returned as-is")
	}
}

func TestRouterAllMethodsFailed(t *testing.T) {
	boom := errors.New("boom")
	opt := &stubBackend{method: MethodOptimized, err: boom}
	std := &stubBackend{method: MethodStandard, err: boom}
	alt := &stubBackend{method: MethodAlternative, err: boom}
	gdi := &stubBackend{method: MethodGDI, err: errors.New("gdi down")}

	r := NewRouter(NewSelector(), stubs(opt, std, alt), gdi)
	_, err := r.Capture(testDisplay)
	if !errors.Is(err, ErrAllMethodsFailed) {
		t.Fatalf("error = %v, want ErrAllMethodsFailed", err)
	}
	if opt.calls != 1 || std.calls != 1 || alt.calls != 1 || gdi.calls != 1 {
		t.Errorf("calls = %d/%d/%d/%d", opt.calls, std.calls, alt.calls, gdi.calls)
	}
}

func TestRouterSkipsMethodsAbovePreferred(t *testing.T) {
	opt := &stubBackend{method: MethodOptimized, frame: contentFrame()}
	std := &stubBackend{method: MethodStandard, frame: contentFrame()}
	alt := &stubBackend{method: MethodAlternative, frame: contentFrame()}

	sel := NewSelector()
	for i := 0; i < PromotionThreshold; i++ {
		sel.RecordFailure(testDisplay.ID, MethodOptimized)
		sel.RecordSuccess(testDisplay.ID, MethodStandard)
	}

	r := NewRouter(sel, stubs(opt, std, alt), nil)
	if _, err := r.Capture(testDisplay); err != nil {
		t.Fatal(err)
	}
	if opt.calls != 0 || std.calls != 1 {
		t.Errorf("optimized calls = %d, standard calls = %d", opt.calls, std.calls)
	}
}

func TestRouterMissingBackendCountsAsFailure(t *testing.T) {
	alt := &stubBackend{method: MethodAlternative, frame: contentFrame()}
	sel := NewSelector()
	sel.RecordSuccess(testDisplay.ID, MethodOptimized)

	r := NewRouter(sel, []Backend{alt}, nil)
	if _, err := r.Capture(testDisplay); err != nil {
		t.Fatal(err)
	}
	if got := sel.Snapshot()[testDisplay.ID].Successes[MethodOptimized]; got != 0 {
		t.Errorf("optimized counter = %d, want 0", got)
	}
}

func TestRouterCloseClosesBackends(t *testing.T) {
	opt := &stubBackend{method: MethodOptimized}
	gdi := &stubBackend{method: MethodGDI}
	extra := &stubBackend{}

	r := NewRouter(nil, []Backend{opt}, gdi)
	r.AddCloser(extra)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !opt.closed || !gdi.closed || !extra.closed {
		t.Error("Close missed a resource")
	}
}
