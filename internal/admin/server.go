package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/config"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/events"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/index"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/monitor"
)

// Server is the administrative HTTP service: status, visit history,
// clip listings, configuration, and a websocket event feed.
type Server struct {
	cfg     *config.Config
	cfgPath string
	mon     *monitor.Monitor
	store   *events.Store
	idx     *index.Index
	auth    *Authenticator
	hub     *Hub
	log     *logging.Logger
}

// NewServer wires the admin service.
func NewServer(cfg *config.Config, cfgPath string, mon *monitor.Monitor,
	store *events.Store, idx *index.Index, hub *Hub, log *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		cfgPath: cfgPath,
		mon:     mon,
		store:   store,
		idx:     idx,
		auth:    NewAuthenticator(cfg.AdminPasswordHash),
		hub:     hub,
		log:     log.Module("admin"),
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/login", s.handleLogin)
	r.Get("/ws/events", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/visits", s.handleVisits)
		r.Get("/api/clips", s.handleClips)
		r.Get("/api/config", s.handleGetConfig)
		r.Put("/api/config", s.handlePutConfig)
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.AdminListen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infof("admin service listening on %s", s.cfg.AdminListen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	token, expiresAt, err := s.auth.Login(req.Password)
	if err != nil {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.mon.Status())
}

// handleVisits lists visits for a date (default today). The SQLite
// index serves the query when open; otherwise the JSON day file does.
func (s *Server) handleVisits(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(s.cfg.Location()).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, `{"error":"invalid date"}`, http.StatusBadRequest)
		return
	}

	var visits []events.VisitRecord
	if s.idx != nil {
		var err error
		visits, err = s.idx.ListVisits(s.cfg.StreamID, date)
		if err != nil {
			s.log.Warnf("index query failed, falling back to day file: %v", err)
			visits = s.store.Load(date)
		}
	} else {
		visits = s.store.Load(date)
	}
	if visits == nil {
		visits = []events.VisitRecord{}
	}
	writeJSON(w, map[string]interface{}{"date": date, "visits": visits})
}

func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(s.cfg.Location()).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, `{"error":"invalid date"}`, http.StatusBadRequest)
		return
	}

	type clipInfo struct {
		Name     string    `json:"name"`
		Size     int64     `json:"size"`
		Modified time.Time `json:"modified"`
	}
	clipList := []clipInfo{}

	entries, err := os.ReadDir(filepath.Join(s.cfg.ClipsRoot(), date))
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
				continue
			}
			info, ierr := e.Info()
			if ierr != nil {
				continue
			}
			clipList = append(clipList, clipInfo{
				Name:     e.Name(),
				Size:     info.Size(),
				Modified: info.ModTime(),
			})
		}
	}
	sort.Slice(clipList, func(i, j int) bool { return clipList[i].Name < clipList[j].Name })
	writeJSON(w, map[string]interface{}{"date": date, "clips": clipList})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		http.Error(w, `{"error":"marshal config"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// handlePutConfig validates and persists a new configuration. The
// running process keeps its current settings; a restart picks them up.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfgPath == "" {
		http.Error(w, `{"error":"no config file to write"}`, http.StatusConflict)
		return
	}

	updated := *s.cfg
	if err := yaml.NewDecoder(r.Body).Decode(&updated); err != nil {
		http.Error(w, `{"error":"invalid yaml"}`, http.StatusBadRequest)
		return
	}
	if err := updated.Validate(); err != nil {
		writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if err := updated.Write(s.cfgPath); err != nil {
		s.log.Errorf("write config: %v", err)
		http.Error(w, `{"error":"write failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "saved", "note": "restart required to apply"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
