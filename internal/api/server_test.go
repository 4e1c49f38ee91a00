package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/detect"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/output"
	"github.com/bryanchriswhite/screenmask/internal/overlay"
	"github.com/bryanchriswhite/screenmask/internal/pipeline"
)

type stubCapturer struct{}

func (stubCapturer) Capture(d display.Descriptor) (*capture.Frame, error) {
	return capture.NewFrame(8, 8), nil
}

type stubDetector struct {
	ready atomic.Bool
}

func (d *stubDetector) Detect(context.Context, *capture.Frame, detect.Config) ([]geometry.Rect, error) {
	return nil, nil
}

func (d *stubDetector) Ready() bool { return d.ready.Load() }

type testEnv struct {
	srv      *Server
	handler  http.Handler
	cfg      *config.Manager
	detector *stubDetector
	selector *capture.Selector
	pipeline *pipeline.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	displays := display.NewEnumerator(display.SourceFunc(func() ([]display.Descriptor, error) {
		return []display.Descriptor{
			{ID: 1, Name: "right", X: 1920, Width: 1920, Height: 1080, ScaleFactor: 1},
			{ID: 0, Name: "left", Width: 1920, Height: 1080, ScaleFactor: 1, Primary: true},
		}, nil
	}))

	det := &stubDetector{}
	ov := overlay.NewManager(nil, func() string { return cfg.Get().Monitoring.MosaicStyle })
	orch := pipeline.New(pipeline.Options{
		Capturer: stubCapturer{},
		Detector: det,
		Overlay:  ov,
		Settings: pipeline.SettingsFromConfig(cfg),
	})
	t.Cleanup(orch.Stop)

	sel := capture.NewSelector()
	srv := NewServer(Options{
		Config:   cfg,
		Displays: displays,
		Pipeline: orch,
		Detector: det,
		Overlay:  ov,
		Selector: sel,
		Emitter:  output.NewEmitter(0),
	})
	return &testEnv{srv: srv, handler: srv.Handler(), cfg: cfg, detector: det, selector: sel, pipeline: orch}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestDisplaysSorted(t *testing.T) {
	env := newTestEnv(t)
	var list []display.Descriptor
	decode(t, env.do(t, "GET", "/api/displays", ""), &list)
	if len(list) != 2 || list[0].Name != "left" || list[1].Name != "right" {
		t.Errorf("displays = %+v", list)
	}
}

func TestStartRequiresReadyDetector(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/monitoring/start", `{"display_id":0}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["error"] != ErrCodeDetectorNotReady {
		t.Errorf("body = %v", body)
	}
	if env.pipeline.Status().State != pipeline.StateIdle {
		t.Error("pipeline started without a ready detector")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.detector.ready.Store(true)

	rec := env.do(t, "POST", "/api/monitoring/start", `{"display_id":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var st struct {
		State   string              `json:"state"`
		Display *display.Descriptor `json:"display"`
		Ready   bool                `json:"ready"`
	}
	decode(t, rec, &st)
	if st.State != "running" || st.Display == nil || st.Display.ID != 1 || !st.Ready {
		t.Errorf("status = %+v", st)
	}

	rec = env.do(t, "POST", "/api/monitoring/start", `{"display_id":0}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d", rec.Code)
	}

	rec = env.do(t, "POST", "/api/monitoring/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	decode(t, env.do(t, "GET", "/api/monitoring/status", ""), &st)
	if st.State != "idle" || st.Display != nil {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestStartUnknownDisplay(t *testing.T) {
	env := newTestEnv(t)
	env.detector.ready.Store(true)
	if rec := env.do(t, "POST", "/api/monitoring/start", `{"display_id":7}`); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/monitoring/start", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/monitoring/start", `nope`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rec.Code)
	}
}

func TestStartResetsCaptureState(t *testing.T) {
	env := newTestEnv(t)
	env.detector.ready.Store(true)
	if err := env.cfg.Set("monitoring.reset_capture_state", "true"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < capture.PromotionThreshold; i++ {
		env.selector.RecordSuccess(0, capture.MethodAlternative)
	}

	if rec := env.do(t, "POST", "/api/monitoring/start", `{"display_id":0}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := env.selector.Preferred(0); got != capture.MethodOptimized {
		t.Errorf("preferred after reset = %s", got)
	}
}

func TestResetCaptureState(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []int{0, 1} {
		for i := 0; i < capture.PromotionThreshold; i++ {
			env.selector.RecordSuccess(id, capture.MethodAlternative)
		}
	}

	if rec := env.do(t, "DELETE", "/api/capture/state", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if n := len(env.selector.Snapshot()); n != 0 {
		t.Errorf("states after reset = %d, want 0", n)
	}
	if got := env.selector.Preferred(1); got != capture.MethodOptimized {
		t.Errorf("preferred after reset = %s", got)
	}
}

func TestOverlayShowHide(t *testing.T) {
	env := newTestEnv(t)

	var st statusResponse
	decode(t, env.do(t, "GET", "/api/monitoring/status", ""), &st)
	if st.OverlayVisible {
		t.Error("overlay visible before monitoring")
	}

	env.detector.ready.Store(true)
	decode(t, env.do(t, "POST", "/api/monitoring/start", `{"display_id":0}`), &st)
	if !st.OverlayVisible {
		t.Error("overlay hidden after start")
	}

	decode(t, env.do(t, "POST", "/api/overlay/hide", ""), &st)
	if st.OverlayVisible {
		t.Error("overlay visible after hide")
	}

	decode(t, env.do(t, "POST", "/api/overlay/show", ""), &st)
	if !st.OverlayVisible {
		t.Error("overlay hidden after show")
	}

	decode(t, env.do(t, "POST", "/api/monitoring/stop", ""), &st)
	if st.OverlayVisible {
		t.Error("overlay visible after stop")
	}
}

func TestMosaicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/mosaic/latest", "")
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("latest before any update = %s", rec.Body.String())
	}

	var style map[string]string
	decode(t, env.do(t, "GET", "/api/mosaic/style", ""), &style)
	if style["style"] != config.MosaicStylePixelate {
		t.Errorf("style = %v", style)
	}
}

func TestUpdateConfigKeepsUnsetFields(t *testing.T) {
	env := newTestEnv(t)
	before := env.cfg.Get()

	rec := env.do(t, "PUT", "/api/config", `{"monitoring":{"interval_ms":50}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	after := env.cfg.Get()
	if after.Monitoring.IntervalMs != 50 {
		t.Errorf("interval = %d", after.Monitoring.IntervalMs)
	}
	if after.Monitoring.MosaicScale != before.Monitoring.MosaicScale || after.Server.Port != before.Server.Port {
		t.Error("partial update reset other fields")
	}

	if rec := env.do(t, "PUT", "/api/config", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", rec.Code)
	}
}

func TestCaptureStateAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.selector.RecordSuccess(2, capture.MethodStandard)

	var cs struct {
		Displays map[string]struct {
			Successes map[string]uint32 `json:"successes"`
		} `json:"displays"`
		Prefetch pipeline.PrefetchStats `json:"prefetch"`
	}
	decode(t, env.do(t, "GET", "/api/capture/state", ""), &cs)
	if cs.Displays["2"].Successes["standard"] != 1 {
		t.Errorf("capture state = %+v", cs)
	}

	var stats map[string]any
	decode(t, env.do(t, "GET", "/api/stats", ""), &stats)
	if _, ok := stats["pipeline"]; !ok {
		t.Errorf("stats missing pipeline: %v", stats)
	}
	if _, ok := stats["emitter"]; !ok {
		t.Errorf("stats missing emitter: %v", stats)
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hub := env.srv.Hub()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	hub.Deliver(output.Message{Event: output.EventFrame, Payload: "ignored"})
	hub.Deliver(output.Message{
		Event:   overlay.EventMosaicUpdate,
		Payload: overlay.MaskPayload{Seq: 7, Mosaics: []geometry.Rect{geometry.NewRect(1, 2, 3, 4)}},
		EmitTS:  99,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event   string              `json:"event"`
		Payload overlay.MaskPayload `json:"payload"`
		EmitTS  int64               `json:"emit_ts"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != overlay.EventMosaicUpdate || msg.Payload.Seq != 7 || msg.EmitTS != 99 {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Payload.Mosaics) != 1 || msg.Payload.Mosaics[0].Width != 3 {
		t.Errorf("mosaics = %v", msg.Payload.Mosaics)
	}
}
