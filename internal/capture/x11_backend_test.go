//go:build !windows

package capture

import (
	"errors"
	"testing"
)

func TestZPixmapToFrame(t *testing.T) {
	data := []byte{
		1, 2, 3, 0, 4, 5, 6, 0,
		7, 8, 9, 0, 10, 11, 12, 0,
	}
	f, err := zpixmapToFrame(data, 2, 2, 24)
	if err != nil {
		t.Fatalf("zpixmapToFrame: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Fatal(err)
	}
	if b, g, r, a := f.At(1, 1); b != 10 || g != 11 || r != 12 || a != 255 {
		t.Errorf("pixel (1,1) = %d %d %d %d", b, g, r, a)
	}
}

func TestZPixmapToFrameRejectsDepth(t *testing.T) {
	if _, err := zpixmapToFrame(make([]byte, 16), 2, 2, 16); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("error = %v, want ErrNotSupported", err)
	}
}

func TestZPixmapToFrameShortData(t *testing.T) {
	if _, err := zpixmapToFrame(make([]byte, 8), 2, 2, 24); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("error = %v, want ErrInvalidFrame", err)
	}
}
