package output

import (
	"image"
	"time"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// EventFrame carries raw debug frames between the pipeline and the preview.
const EventFrame = "frame"

// DefaultPreviewInterval paces the debug preview (~15 Hz).
const DefaultPreviewInterval = 66 * time.Millisecond

// FramePayload is the body of a frame event.
type FramePayload struct {
	Display display.Descriptor
	Frame   *capture.Frame
}

// FramePublisher hands raw frames to an Emitter, which keeps only the
// newest one between deliveries.
type FramePublisher struct {
	Emitter *Emitter
}

// PushFrame publishes f as the latest debug frame.
func (p FramePublisher) PushFrame(d display.Descriptor, f *capture.Frame) {
	p.Emitter.Publish(EventFrame, FramePayload{Display: d, Frame: f})
}

// Renderer draws masks onto a preview image.
type Renderer interface {
	RenderPreview(img *image.RGBA)
}

// Preview is a Sink that turns frame events into preview images.
type Preview struct {
	out      Output
	renderer Renderer
	width    int
}

// NewPreview creates a preview sink writing to out. renderer may be nil.
// A positive width scales the preview to that width.
func NewPreview(out Output, renderer Renderer, width int) *Preview {
	return &Preview{out: out, renderer: renderer, width: width}
}

// Deliver renders a frame event. Other events are ignored.
func (p *Preview) Deliver(msg Message) {
	fp, ok := msg.Payload.(FramePayload)
	if !ok || msg.Event != EventFrame || fp.Frame == nil {
		return
	}
	if !p.out.IsRunning() {
		return
	}

	img := p.Render(fp.Frame)
	if err := p.out.WriteFrame(img); err != nil {
		logger.WithComponent("preview").Debug().
			Err(err).
			Str("output", p.out.Name()).
			Msg("Failed to write preview frame")
	}
}

// Render converts f, paints the current masks, and scales the result.
func (p *Preview) Render(f *capture.Frame) *image.RGBA {
	img := f.ToRGBA()
	if p.renderer != nil {
		p.renderer.RenderPreview(img)
	}
	return scaleToWidth(img, p.width)
}

func scaleToWidth(src *image.RGBA, width int) *image.RGBA {
	b := src.Bounds()
	if width <= 0 || width >= b.Dx() {
		return src
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
