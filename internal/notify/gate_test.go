package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
)

type recordingNotifier struct {
	sent []Notification
	fail bool
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	if r.fail {
		return fmt.Errorf("backend down")
	}
	r.sent = append(r.sent, n)
	return nil
}

func newGate(t *testing.T, backend Notifier) *Gate {
	t.Helper()
	log, err := logging.New("", logging.LevelError, false)
	require.NoError(t, err)
	return NewGate(backend, 5, "falcon", log)
}

func TestArrivalDeliveredWithoutHistory(t *testing.T) {
	backend := &recordingNotifier{}
	g := newGate(t, backend)

	g.OnArrival(context.Background(), time.Now(), "/tmp/thumb.jpg")
	require.Len(t, backend.sent, 1)
	assert.Contains(t, backend.sent[0].Title, "arrived")
	assert.Equal(t, "/tmp/thumb.jpg", backend.sent[0].ThumbnailPath)
}

func TestArrivalSuppressedWithinCooldown(t *testing.T) {
	backend := &recordingNotifier{}
	g := newGate(t, backend)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	g.OnDeparture(context.Background(), t0, "", "10m 0s")
	require.Len(t, backend.sent, 1)

	g.OnArrival(context.Background(), t0.Add(3*time.Minute), "")
	assert.Len(t, backend.sent, 1, "arrival inside cooldown is suppressed")

	g.OnArrival(context.Background(), t0.Add(6*time.Minute), "")
	assert.Len(t, backend.sent, 2, "arrival after cooldown is delivered")
}

func TestDepartureNeverSuppressed(t *testing.T) {
	backend := &recordingNotifier{}
	g := newGate(t, backend)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	g.OnDeparture(context.Background(), t0, "", "5m 0s")
	g.OnDeparture(context.Background(), t0.Add(time.Minute), "", "30s")
	assert.Len(t, backend.sent, 2)
	assert.Contains(t, backend.sent[1].Body, "30s")
}

func TestFailedDepartureDoesNotArmCooldown(t *testing.T) {
	backend := &recordingNotifier{fail: true}
	g := newGate(t, backend)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	g.OnDeparture(context.Background(), t0, "", "5m 0s")

	backend.fail = false
	g.OnArrival(context.Background(), t0.Add(time.Minute), "")
	assert.Len(t, backend.sent, 1, "cooldown only arms on successful delivery")
}
