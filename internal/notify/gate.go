package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

// Gate decides whether an event becomes a notification. Arrivals within
// the cooldown of the last delivered departure are suppressed; the bird
// hopping off and back on within minutes is one visit to a human reader.
// Departures are never suppressed.
type Gate struct {
	backend  Notifier
	cooldown time.Duration
	subject  string
	log      *logging.Logger

	mu            sync.Mutex
	lastDeparture time.Time
}

// NewGate wraps a backend with the arrival cooldown policy.
func NewGate(backend Notifier, cooldownMinutes int, subject string, log *logging.Logger) *Gate {
	return &Gate{
		backend:  backend,
		cooldown: time.Duration(cooldownMinutes) * time.Minute,
		subject:  subject,
		log:      log.Module("notify"),
	}
}

// OnArrival delivers an arrival notification unless within cooldown of
// the most recent delivered departure.
func (g *Gate) OnArrival(ctx context.Context, ts time.Time, thumbnailPath string) {
	g.mu.Lock()
	last := g.lastDeparture
	g.mu.Unlock()

	if !last.IsZero() {
		if since := ts.Sub(last); since < g.cooldown {
			g.log.Infof("arrival notification suppressed, %s left of cooldown",
				(g.cooldown - since).Round(time.Second))
			return
		}
	}

	n := Notification{
		Title:         fmt.Sprintf("%s arrived", g.subject),
		Body:          fmt.Sprintf("Arrived at %s", ts.Format("15:04:05")),
		ThumbnailPath: thumbnailPath,
	}
	if err := g.backend.Send(ctx, n); err != nil {
		g.log.Warnf("arrival notification failed: %v", err)
	}
}

// OnDeparture always delivers; a successful delivery arms the arrival
// cooldown.
func (g *Gate) OnDeparture(ctx context.Context, ts time.Time, thumbnailPath, durationStr string) {
	n := Notification{
		Title:         fmt.Sprintf("%s departed", g.subject),
		Body:          fmt.Sprintf("Departed at %s after %s", ts.Format("15:04:05"), durationStr),
		ThumbnailPath: thumbnailPath,
	}
	if err := g.backend.Send(ctx, n); err != nil {
		g.log.Warnf("departure notification failed: %v", err)
		return
	}

	g.mu.Lock()
	g.lastDeparture = ts
	g.mu.Unlock()
}
