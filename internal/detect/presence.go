package detect

import "strings"

// Presence decides whether the monitored subject is in a frame based on
// the raw detector output. Infrared frames use a separate threshold when
// one is configured; IR imagery flattens texture and the model's
// confidence drops with it.
type Presence struct {
	classes   map[int]bool
	anyAnimal bool
	label     string
	conf      float64
	confIR    float64
}

// NewPresence builds the subject filter.
func NewPresence(classes []int, anyAnimal bool, label string, conf, confIR float64) *Presence {
	set := make(map[int]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	if confIR <= 0 {
		confIR = conf
	}
	return &Presence{
		classes:   set,
		anyAnimal: anyAnimal,
		label:     strings.ToLower(label),
		conf:      conf,
		confIR:    confIR,
	}
}

// Threshold returns the active confidence threshold for the lighting mode.
func (p *Presence) Threshold(infrared bool) float64 {
	if infrared {
		return p.confIR
	}
	return p.conf
}

// Evaluate reports whether the subject is present and the confidence of
// the best matching detection.
func (p *Presence) Evaluate(r *Result, infrared bool) (bool, float64) {
	threshold := p.Threshold(infrared)
	best := 0.0
	for _, det := range r.Detections {
		if !p.matches(det) {
			continue
		}
		if det.Confidence >= threshold && det.Confidence > best {
			best = det.Confidence
		}
	}
	return best > 0, best
}

func (p *Presence) matches(det Detection) bool {
	if p.anyAnimal {
		return p.classes[det.ClassID]
	}
	return strings.ToLower(det.Class) == p.label
}
