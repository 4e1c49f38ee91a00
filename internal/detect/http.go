package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

const (
	// DefaultTimeout bounds a single detection request.
	DefaultTimeout = 2 * time.Second

	healthCheckTimeout  = 500 * time.Millisecond
	healthCheckInterval = time.Second

	headerWidth  = "X-Frame-Width"
	headerHeight = "X-Frame-Height"
	headerConfig = "X-Detect-Config"
)

type detectResponse struct {
	Regions []geometry.Rect `json:"regions"`
}

// HTTPDetector posts raw BGRA frames to a detection service.
type HTTPDetector struct {
	endpoint  string
	healthURL string
	client    *http.Client

	mu        sync.Mutex
	ready     bool
	lastCheck time.Time
	now       func() time.Time
}

// NewHTTPDetector creates a detector for endpoint. Readiness is checked at
// /healthz on the same host.
func NewHTTPDetector(endpoint string, timeout time.Duration) (*HTTPDetector, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid detector endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detector endpoint %q: missing scheme or host", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	health := *u
	health.Path = "/healthz"
	health.RawQuery = ""

	return &HTTPDetector{
		endpoint:  u.String(),
		healthURL: health.String(),
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}, nil
}

// Detect sends one frame and decodes the returned regions.
func (d *HTTPDetector) Detect(ctx context.Context, frame *capture.Frame, cfg Config) ([]geometry.Rect, error) {
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetect, err)
	}

	cfg.MinSizePx, cfg.MaxSizePx = cfg.EffectiveSizes(frame.Width, frame.Height)
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode config: %w", ErrDetect, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(frame.Pix))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetect, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerWidth, strconv.Itoa(frame.Width))
	req.Header.Set(headerHeight, strconv.Itoa(frame.Height))
	req.Header.Set(headerConfig, string(cfgJSON))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetect, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrDetect, err)
	}

	// The service answering proves it is up.
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()

	return out.Regions, nil
}

// Ready reports whether the service has answered /healthz with 200. Once
// ready it stays ready; failed checks are repeated at most once a second.
func (d *HTTPDetector) Ready() bool {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return true
	}
	now := d.now()
	if !d.lastCheck.IsZero() && now.Sub(d.lastCheck) < healthCheckInterval {
		d.mu.Unlock()
		return false
	}
	d.lastCheck = now
	d.mu.Unlock()

	ok := d.checkHealth()

	d.mu.Lock()
	defer d.mu.Unlock()
	if ok && !d.ready {
		d.ready = true
		logger.WithComponent("detect").Info().
			Str("endpoint", d.endpoint).
			Msg("Detector is ready")
	}
	return d.ready
}

func (d *HTTPDetector) checkHealth() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		logger.WithComponent("detect").Debug().
			Err(err).
			Str("url", d.healthURL).
			Msg("Detector health check failed")
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
