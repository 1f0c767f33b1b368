package detect

import (
	"context"
	"fmt"
)

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Detection is a single detected object in a frame.
type Detection struct {
	Class      string  `json:"class"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"-"`
}

// Result is the full detector response for one frame.
type Result struct {
	Detections      []Detection
	InferenceTimeMs float64
	Device          string
}

// Detector runs object detection on a JPEG-compressed frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte, confThreshold float64) (*Result, error)
	Healthy(ctx context.Context) bool
}

// ErrUnavailable is returned while the detection backend is down.
var ErrUnavailable = fmt.Errorf("detection service unavailable")
