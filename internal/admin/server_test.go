package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/config"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/events"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/monitor"
)

func testServer(t *testing.T, passwordHash string) (*Server, *config.Config) {
	t.Helper()
	log, err := logging.New("", logging.LevelError, false)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.VideoSource = "rtsp://cam.local/stream"
	cfg.DataRoot = t.TempDir()
	cfg.StreamID = "nest-cam"
	cfg.AdminPasswordHash = passwordHash
	require.NoError(t, cfg.Validate())

	store := events.NewStore(cfg.ClipsRoot(), cfg.Location(), log)
	srv := NewServer(cfg, filepath.Join(cfg.DataRoot, "kanyo.yaml"),
		&monitor.Monitor{}, store, nil, NewHub(log), log)
	return srv, cfg
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t, "")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var status monitor.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "ABSENT", status.State)
}

func TestVisitsEndpoint(t *testing.T) {
	srv, cfg := testServer(t, "")
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	require.NoError(t, srv.store.Append(events.VisitRecord{
		ID: "20250601_090000", StartTime: start, EndTime: &end,
		DurationSeconds: 600, DurationStr: "10m 0s", PeakConfidence: 0.9,
	}))
	_ = cfg

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/visits?date=2025-06-01", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Date   string               `json:"date"`
		Visits []events.VisitRecord `json:"visits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "2025-06-01", resp.Date)
	require.Len(t, resp.Visits, 1)
	assert.Equal(t, "20250601_090000", resp.Visits[0].ID)
}

func TestVisitsRejectsBadDate(t *testing.T) {
	srv, _ := testServer(t, "")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/visits?date=junk", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClipsEndpoint(t *testing.T) {
	srv, cfg := testServer(t, "")
	dir := filepath.Join(cfg.ClipsRoot(), "2025-06-01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "falcon_090000_arrival.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "falcon_090000_arrival.jpg"), []byte("x"), 0o644))

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/clips?date=2025-06-01", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Clips []struct {
			Name string `json:"name"`
		} `json:"clips"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Clips, 1, "only mp4 files are listed")
	assert.Equal(t, "falcon_090000_arrival.mp4", resp.Clips[0].Name)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	srv, _ := testServer(t, string(hash))
	router := srv.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Login and retry with the bearer token.
	body, _ := json.Marshal(map[string]string{"password": "hunter2"})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	srv, _ := testServer(t, string(hash))

	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPutConfigValidates(t *testing.T) {
	srv, cfg := testServer(t, "")

	// exit_timeout >= roosting_exit_timeout violates the timing rules.
	bad := "video_source: rtsp://cam.local/stream\nexit_timeout: 900\nroosting_exit_timeout: 600\n"
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/config", bytes.NewBufferString(bad)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	good := "video_source: rtsp://cam.local/stream\n"
	rr = httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/config", bytes.NewBufferString(good)))
	require.Equal(t, http.StatusOK, rr.Code)

	_, err := os.Stat(filepath.Join(cfg.DataRoot, "kanyo.yaml"))
	assert.NoError(t, err, "validated config written to disk")
}
