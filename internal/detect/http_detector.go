package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

// HTTPDetector talks to a YOLO inference service over HTTP. Frames go up
// as multipart JPEG uploads; detections come back as JSON.
type HTTPDetector struct {
	endpoint string
	client   *http.Client
	log      *logging.Logger

	mu          sync.Mutex
	enabled     bool
	healthCheck time.Time
}

var _ Detector = (*HTTPDetector)(nil)

// NewHTTPDetector creates a detector client for the given service endpoint.
func NewHTTPDetector(endpoint string, log *logging.Logger) *HTTPDetector {
	return &HTTPDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.Module("detect"),
		enabled:  true,
	}
}

// Healthy checks service availability, caching a positive answer for 30
// seconds so the per-frame path does not double the request rate.
func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	d.mu.Lock()
	if time.Since(d.healthCheck) < 30*time.Second && d.enabled {
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warnf("detector health check failed: %v", err)
		d.setEnabled(false)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.log.Warnf("detector health check returned status %d", resp.StatusCode)
		d.setEnabled(false)
		return false
	}

	d.mu.Lock()
	d.healthCheck = time.Now()
	d.enabled = true
	d.mu.Unlock()
	return true
}

func (d *HTTPDetector) setEnabled(v bool) {
	d.mu.Lock()
	d.enabled = v
	d.mu.Unlock()
}

// Detect uploads the JPEG frame and returns the parsed detections.
func (d *HTTPDetector) Detect(ctx context.Context, jpeg []byte, confThreshold float64) (*Result, error) {
	if !d.Healthy(ctx) {
		return nil, ErrUnavailable
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(jpeg); err != nil {
		return nil, err
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.2f", confThreshold)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.setEnabled(false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detection failed: %s", string(body))
	}

	var wire struct {
		Detections []struct {
			Class      string    `json:"class"`
			ClassID    int       `json:"class_id"`
			Confidence float64   `json:"confidence"`
			BBox       []float32 `json:"bbox"`
		} `json:"detections"`
		InferenceTimeMs float64 `json:"inference_time_ms"`
		Device          string  `json:"device"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	out := &Result{
		Detections:      make([]Detection, 0, len(wire.Detections)),
		InferenceTimeMs: wire.InferenceTimeMs,
		Device:          wire.Device,
	}
	for _, det := range wire.Detections {
		box := Box{}
		if len(det.BBox) == 4 {
			box = Box{X1: det.BBox[0], Y1: det.BBox[1], X2: det.BBox[2], Y2: det.BBox[3]}
		}
		out.Detections = append(out.Detections, Detection{
			Class:      det.Class,
			ClassID:    det.ClassID,
			Confidence: det.Confidence,
			Box:        box,
		})
	}
	return out, nil
}
