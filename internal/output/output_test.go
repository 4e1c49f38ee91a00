package output

import (
	"bufio"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) Deliver(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestEmitterDeliversLatestOnly(t *testing.T) {
	e := NewEmitter(time.Hour)
	e.now = func() time.Time { return time.UnixMilli(5000) }
	c := &collector{}
	e.AddSink(c)

	e.Publish("mosaic-update", 1)
	e.Publish("overlay-open", "d0")
	e.Publish("mosaic-update", 2)
	e.Publish("mosaic-update", 3)
	e.Flush()

	msgs := c.all()
	if len(msgs) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(msgs))
	}
	if msgs[0].Event != "overlay-open" || msgs[0].EmitTS != 5000 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Event != "mosaic-update" || msgs[1].Payload != 3 {
		t.Errorf("second message = %+v", msgs[1])
	}

	st := e.Stats()
	if st.Published != 4 || st.Delivered != 2 || st.Coalesced != 2 {
		t.Errorf("stats = %+v", st)
	}

	e.Flush()
	if len(c.all()) != 2 {
		t.Error("empty flush delivered messages")
	}
}

func TestEmitterKeepsLatestPublishOrder(t *testing.T) {
	e := NewEmitter(time.Hour)
	c := &collector{}
	e.AddSink(c)

	e.Publish("overlay-open", "a")
	e.Publish("overlay-close", "a")
	e.Publish("overlay-open", "b")
	e.Flush()

	msgs := c.all()
	if len(msgs) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(msgs))
	}
	if msgs[0].Event != "overlay-close" || msgs[1].Event != "overlay-open" || msgs[1].Payload != "b" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestEmitterRunsOnCadence(t *testing.T) {
	e := NewEmitter(5 * time.Millisecond)
	c := &collector{}
	e.AddSink(c)
	e.Start()
	e.Start()
	defer e.Stop()

	e.Publish("mosaic-update", 1)
	deadline := time.Now().Add(2 * time.Second)
	for len(c.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing delivered")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEmitterStopFlushes(t *testing.T) {
	e := NewEmitter(time.Hour)
	c := &collector{}
	e.AddSink(c)
	e.Start()
	e.Publish("overlay-close", nil)
	e.Stop()
	e.Stop()

	if len(c.all()) != 1 {
		t.Errorf("delivered %d messages on stop, want 1", len(c.all()))
	}
}

func TestEmitterSurvivesPanickingSink(t *testing.T) {
	e := NewEmitter(time.Hour)
	c := &collector{}
	e.AddSink(SinkFunc(func(Message) { panic("boom") }))
	e.AddSink(c)

	e.Publish("x", 1)
	e.Flush()
	if len(c.all()) != 1 {
		t.Error("second sink skipped after a panic")
	}
}

type fakeOutput struct {
	running bool
	frames  []*image.RGBA
}

func (o *fakeOutput) Start() error    { o.running = true; return nil }
func (o *fakeOutput) Stop() error     { o.running = false; return nil }
func (o *fakeOutput) Name() string    { return "fake" }
func (o *fakeOutput) IsRunning() bool { return o.running }
func (o *fakeOutput) WriteFrame(f *image.RGBA) error {
	o.frames = append(o.frames, f)
	return nil
}

type markRenderer struct{}

func (markRenderer) RenderPreview(img *image.RGBA) {
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
}

func TestPreviewRendersAndScales(t *testing.T) {
	out := &fakeOutput{running: true}
	p := NewPreview(out, markRenderer{}, 50)

	frame := capture.NewFrame(100, 40)
	p.Deliver(Message{Event: EventFrame, Payload: FramePayload{Display: display.Descriptor{ID: 1}, Frame: frame}})
	p.Deliver(Message{Event: "mosaic-update", Payload: 1})

	if len(out.frames) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(out.frames))
	}
	if b := out.frames[0].Bounds(); b.Dx() != 50 || b.Dy() != 20 {
		t.Errorf("preview size = %v", b)
	}
}

func TestPreviewKeepsNativeWidth(t *testing.T) {
	out := &fakeOutput{running: true}
	p := NewPreview(out, markRenderer{}, 0)
	img := p.Render(capture.NewFrame(10, 10))
	if img.Bounds().Dx() != 10 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if img.RGBAAt(0, 0) != (color.RGBA{255, 0, 0, 255}) {
		t.Error("renderer not applied")
	}
}

func TestPreviewSkipsStoppedOutput(t *testing.T) {
	out := &fakeOutput{}
	p := NewPreview(out, nil, 0)
	p.Deliver(Message{Event: EventFrame, Payload: FramePayload{Frame: capture.NewFrame(2, 2)}})
	if len(out.frames) != 0 {
		t.Error("frame written to a stopped output")
	}
}

func TestFramePublisher(t *testing.T) {
	e := NewEmitter(time.Hour)
	c := &collector{}
	e.AddSink(c)

	pub := FramePublisher{Emitter: e}
	pub.PushFrame(display.Descriptor{ID: 3}, capture.NewFrame(1, 1))
	pub.PushFrame(display.Descriptor{ID: 3}, capture.NewFrame(2, 2))
	e.Flush()

	msgs := c.all()
	if len(msgs) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(msgs))
	}
	if fp := msgs[0].Payload.(FramePayload); fp.Frame.Width != 2 || fp.Display.ID != 3 {
		t.Errorf("payload = %+v", fp)
	}
}

func TestMJPEGStream(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))); err == nil {
		t.Fatal("WriteFrame succeeded on a stopped output")
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "--frame\r\n" {
		t.Errorf("first line = %q", line)
	}

	if st := m.Stats(); st.Frames != 1 || st.Clients != 1 || !st.Running {
		t.Errorf("stats = %+v", st)
	}

	m.Stop()
}

func TestMJPEGRejectsWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}
