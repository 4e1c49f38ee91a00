package capture

import (
	"errors"
	"testing"
)

type fakeObject struct {
	released int
}

func (o *fakeObject) Release() { o.released++ }

type fakeFactory struct {
	devices  []*fakeObject
	stagings []*fakeObject
	sizes    [][2]int
	failDev  error
}

func (f *fakeFactory) CreateDevice() (Device, error) {
	if f.failDev != nil {
		return nil, f.failDev
	}
	d := &fakeObject{}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeFactory) CreateStaging(dev Device, w, h int) (Staging, error) {
	s := &fakeObject{}
	f.stagings = append(f.stagings, s)
	f.sizes = append(f.sizes, [2]int{w, h})
	return s, nil
}

func TestPoolCreatesDeviceOnce(t *testing.T) {
	f := &fakeFactory{}
	p := NewPool(f)

	for i := 0; i < 3; i++ {
		if err := p.EnsureReady(); err != nil {
			t.Fatalf("EnsureReady: %v", err)
		}
	}
	if len(f.devices) != 1 {
		t.Fatalf("created %d devices, want 1", len(f.devices))
	}
}

func TestPoolRecreatesStagingOnlyOnResize(t *testing.T) {
	f := &fakeFactory{}
	p := NewPool(f)

	acquire := func(w, h int) Staging {
		t.Helper()
		_, st, err := p.Acquire(w, h)
		if err != nil {
			t.Fatalf("Acquire(%d, %d): %v", w, h, err)
		}
		return st
	}

	first := acquire(1920, 1080)
	if again := acquire(1920, 1080); again != first {
		t.Error("staging recreated for the same size")
	}
	if len(f.stagings) != 1 {
		t.Fatalf("created %d staging surfaces, want 1", len(f.stagings))
	}

	acquire(2560, 1440)
	if len(f.stagings) != 2 {
		t.Fatalf("created %d staging surfaces after resize, want 2", len(f.stagings))
	}
	if f.stagings[0].released != 1 {
		t.Error("old staging surface not released on resize")
	}
	if len(f.devices) != 1 {
		t.Errorf("device recreated on resize: %d devices", len(f.devices))
	}
}

func TestPoolCloseReleasesEverything(t *testing.T) {
	f := &fakeFactory{}
	p := NewPool(f)
	if _, _, err := p.Acquire(10, 10); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if f.devices[0].released != 1 || f.stagings[0].released != 1 {
		t.Error("Close did not release device and staging")
	}

	// A closed pool starts over.
	if _, _, err := p.Acquire(10, 10); err != nil {
		t.Fatal(err)
	}
	if len(f.devices) != 2 {
		t.Errorf("devices after reuse = %d, want 2", len(f.devices))
	}
}

func TestPoolDeviceFailure(t *testing.T) {
	boom := errors.New("no gpu")
	p := NewPool(&fakeFactory{failDev: boom})
	_, _, err := p.Acquire(10, 10)
	if !errors.Is(err, ErrResource) {
		t.Fatalf("Acquire error = %v, want ErrResource", err)
	}
}
