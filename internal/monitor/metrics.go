package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanyo_frames_total",
		Help: "Frames received from the capture pipeline.",
	})
	detectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanyo_detections_total",
		Help: "Detector calls that found the subject.",
	})
	detectorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanyo_detector_errors_total",
		Help: "Detector calls that failed.",
	})
	visitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanyo_visits_total",
		Help: "Completed visits.",
	})
	watchdogStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanyo_watchdog_stalls_total",
		Help: "Intervals of 60s with no frames from the stream.",
	})
	currentState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kanyo_behavior_state",
		Help: "Current behavior state (0 absent, 1 pending, 2 visiting, 3 roosting, 4 activity).",
	})
)
