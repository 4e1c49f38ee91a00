package display

import (
	"errors"
	"testing"
)

func fixedSource(ds ...Descriptor) Source {
	return SourceFunc(func() ([]Descriptor, error) { return ds, nil })
}

func TestListSortsByRowThenColumn(t *testing.T) {
	e := NewEnumerator(fixedSource(
		Descriptor{ID: 0, X: 1920, Y: 0, Width: 1920, Height: 1080, ScaleFactor: 1},
		Descriptor{ID: 1, X: 0, Y: 0, Width: 1920, Height: 1080, ScaleFactor: 1.5},
		Descriptor{ID: 2, X: 0, Y: -1080, Width: 1920, Height: 1080, ScaleFactor: 1},
	))

	got, err := e.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	wantIDs := []int{2, 1, 0}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("position %d: got id %d, want %d (%+v)", i, got[i].ID, id, got)
		}
	}
	if got[1].ScaleFactor != 1.5 {
		t.Errorf("scale factor not preserved: %v", got[1].ScaleFactor)
	}
}

func TestListKeepsOSOrderOnTies(t *testing.T) {
	e := NewEnumerator(fixedSource(
		Descriptor{ID: 0, X: 0, Y: 0},
		Descriptor{ID: 1, X: 0, Y: 0},
		Descriptor{ID: 2, X: 0, Y: 0},
	))

	got, err := e.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i, d := range got {
		if d.ID != i {
			t.Fatalf("tie order changed: %+v", got)
		}
	}
}

func TestListEmpty(t *testing.T) {
	e := NewEnumerator(fixedSource())
	if _, err := e.List(); !errors.Is(err, ErrNoDisplays) {
		t.Fatalf("List on empty source = %v, want ErrNoDisplays", err)
	}
}

func TestListSourceError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEnumerator(SourceFunc(func() ([]Descriptor, error) { return nil, boom }))
	if _, err := e.List(); !errors.Is(err, boom) {
		t.Fatalf("List error = %v, want wrapped boom", err)
	}
}

func TestFind(t *testing.T) {
	e := NewEnumerator(fixedSource(
		Descriptor{ID: 0, X: 0, Y: 0, Width: 800, Height: 600},
		Descriptor{ID: 1, X: 800, Y: 0, Width: 1024, Height: 768},
	))

	d, err := e.Find(1)
	if err != nil {
		t.Fatalf("Find(1): %v", err)
	}
	if d.Width != 1024 {
		t.Errorf("Find(1) = %+v", d)
	}

	if _, err := e.Find(7); !errors.Is(err, ErrDisplayNotFound) {
		t.Errorf("Find(7) = %v, want ErrDisplayNotFound", err)
	}
}

func TestScaleFromDPI(t *testing.T) {
	cases := []struct {
		dpi  float64
		want float64
	}{
		{0, 1},
		{-5, 1},
		{72, 1},
		{96, 1},
		{120, 1.25},
		{144, 1.5},
		{192, 2},
	}
	for _, c := range cases {
		if got := ScaleFromDPI(c.dpi); got != c.want {
			t.Errorf("ScaleFromDPI(%v) = %v, want %v", c.dpi, got, c.want)
		}
	}
}
