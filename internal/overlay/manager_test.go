package overlay

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
)

type event struct {
	name    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name, payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

var testDisplay = display.Descriptor{ID: 1, Width: 200, Height: 100, ScaleFactor: 1.5}

func newTestManager(style string) (*Manager, *recorder) {
	rec := &recorder{}
	m := NewManager(rec, func() string { return style })
	m.now = func() time.Time { return time.UnixMilli(42000) }
	return m, rec
}

func TestUpdateMaskPublishesPayload(t *testing.T) {
	m, rec := newTestManager(config.MosaicStylePixelate)
	if err := m.Open(testDisplay); err != nil {
		t.Fatal(err)
	}

	masks := []geometry.Rect{geometry.NewRect(1, 2, 3, 4)}
	m.UpdateMask(masks, 1.2, testDisplay.ScaleFactor)
	m.UpdateMask(masks, 1.2, testDisplay.ScaleFactor)

	latest := m.Latest()
	if latest == nil {
		t.Fatal("no latest payload")
	}
	if latest.Seq != 2 || latest.Ts != 42000 || latest.ScaleFactor != 1.5 {
		t.Errorf("latest = %+v", latest)
	}
	if len(latest.Mosaics) != 1 || latest.Mosaics[0] != masks[0] {
		t.Errorf("mosaics = %v", latest.Mosaics)
	}

	names := rec.names()
	if len(names) != 3 || names[0] != EventOpen || names[1] != EventMosaicUpdate || names[2] != EventMosaicUpdate {
		t.Fatalf("events = %v", names)
	}
	if p := rec.events[2].payload.(MaskPayload); p.Seq != 2 {
		t.Errorf("published seq = %d", p.Seq)
	}
}

func TestLatestIsACopy(t *testing.T) {
	m, _ := newTestManager(config.MosaicStyleSolid)
	m.Open(testDisplay)
	m.UpdateMask([]geometry.Rect{geometry.NewRect(0, 0, 5, 5)}, 1, 1)

	p := m.Latest()
	p.Mosaics[0].X = 99
	if m.Latest().Mosaics[0].X != 0 {
		t.Error("Latest shares its mosaics slice")
	}
}

func TestHiddenOverlayStoresWithoutPublishing(t *testing.T) {
	m, rec := newTestManager(config.MosaicStylePixelate)
	m.Open(testDisplay)
	m.Hide()
	m.Hide()
	m.UpdateMask([]geometry.Rect{geometry.NewRect(0, 0, 5, 5)}, 1, 1)

	if m.Latest() == nil {
		t.Error("update not stored while hidden")
	}
	names := rec.names()
	if len(names) != 2 || names[1] != EventVisibility {
		t.Fatalf("events = %v", names)
	}

	m.Show()
	if !m.Visible() {
		t.Error("not visible after Show")
	}
	if p := rec.events[len(rec.events)-1].payload.(VisibilityPayload); !p.Visible {
		t.Error("visibility payload not true after Show")
	}
}

func TestCloseClearsLatest(t *testing.T) {
	m, rec := newTestManager(config.MosaicStylePixelate)
	m.Open(testDisplay)
	m.UpdateMask(nil, 1, 1)
	m.Close()
	m.Close()

	if m.Latest() != nil {
		t.Error("latest payload survived Close")
	}
	names := rec.names()
	if names[len(names)-1] != EventClose {
		t.Errorf("last event = %s", names[len(names)-1])
	}
	closes := 0
	for _, n := range names {
		if n == EventClose {
			closes++
		}
	}
	if closes != 1 {
		t.Errorf("close events = %d, want 1", closes)
	}
}

func TestOpenRejectsEmptyDisplay(t *testing.T) {
	m, _ := newTestManager(config.MosaicStylePixelate)
	if err := m.Open(display.Descriptor{}); err == nil {
		t.Error("expected an error for an empty display")
	}
}

func TestRenderPreviewStyles(t *testing.T) {
	mask := geometry.NewRect(40, 40, 40, 40)
	inside := image.Pt(60, 60)
	outside := image.Pt(150, 80)

	for _, style := range []string{config.MosaicStylePixelate, config.MosaicStyleBlur, config.MosaicStyleSolid} {
		t.Run(style, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, 200, 100))
			for y := 0; y < 100; y++ {
				for x := 0; x < 200; x++ {
					img.SetRGBA(x, y, color.RGBA{uint8(x * x), uint8(y * 7), uint8((x * 31) ^ (y * 17)), 255})
				}
			}
			before := img.RGBAAt(outside.X, outside.Y)
			orig := image.NewRGBA(img.Bounds())
			copy(orig.Pix, img.Pix)

			m, _ := newTestManager(style)
			m.Open(testDisplay)
			m.UpdateMask([]geometry.Rect{mask}, 1, 1)
			m.RenderPreview(img)

			if img.RGBAAt(outside.X, outside.Y) != before {
				t.Error("pixel outside the mask changed")
			}
			changed := 0
			for y := mask.Y; y < mask.Bottom(); y++ {
				for x := mask.X; x < mask.Right(); x++ {
					if img.RGBAAt(x, y) != orig.RGBAAt(x, y) {
						changed++
					}
				}
			}
			if changed < mask.Area()/2 {
				t.Errorf("only %d of %d masked pixels changed", changed, mask.Area())
			}
			if style == config.MosaicStyleSolid && img.RGBAAt(inside.X, inside.Y) != (color.RGBA{0, 0, 0, 255}) {
				t.Error("solid mask is not black")
			}
		})
	}
}

func TestApplyMaskOutsideImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if applyMask(img, image.Rect(20, 20, 30, 30), config.MosaicStyleSolid) {
		t.Error("mask outside the image reported as applied")
	}
}

func TestUpdateMaskAfterCloseIsIgnored(t *testing.T) {
	m, rec := newTestManager(config.MosaicStylePixelate)
	m.UpdateMask([]geometry.Rect{geometry.NewRect(0, 0, 5, 5)}, 1, 1)
	if m.Latest() != nil || len(rec.names()) != 0 {
		t.Fatal("update applied before Open")
	}

	m.Open(testDisplay)
	m.Close()
	m.UpdateMask([]geometry.Rect{geometry.NewRect(0, 0, 5, 5)}, 1, 1)

	if m.Latest() != nil {
		t.Error("update stored after Close")
	}
	for _, n := range rec.names() {
		if n == EventMosaicUpdate {
			t.Error("update published after Close")
		}
	}

	m.Open(testDisplay)
	m.UpdateMask(nil, 1, 1)
	if p := m.Latest(); p == nil || p.Seq != 1 {
		t.Errorf("latest after reopen = %+v", p)
	}
}

func TestPixelateFillsUniformBlocks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 0, 255})
		}
	}
	pixelate(img, img.Bounds(), 8)

	for _, cell := range []image.Rectangle{image.Rect(0, 0, 8, 8), image.Rect(8, 8, 16, 16)} {
		want := img.RGBAAt(cell.Min.X, cell.Min.Y)
		for y := cell.Min.Y; y < cell.Max.Y; y++ {
			for x := cell.Min.X; x < cell.Max.X; x++ {
				if got := img.RGBAAt(x, y); got != want {
					t.Fatalf("cell %v not uniform at (%d,%d): %v vs %v", cell, x, y, got, want)
				}
			}
		}
	}
	if img.RGBAAt(0, 0) == img.RGBAAt(15, 15) {
		t.Error("opposite cells share a color")
	}
}
