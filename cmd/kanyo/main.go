package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/admin"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/capture"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/config"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/detect"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/encoder"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/events"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/index"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/logging"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/monitor"
	"github.com/sageframe-no-kaji/kanyo-contemplating-falcons-dev-sub000/internal/notify"
)

func main() {
	var (
		configPath = flag.String("config", "kanyo.yaml", "path to the configuration file")
		logLevel   = flag.String("log-level", "INFO", "minimum log level (DEBUG, INFO, EVENT, WARNING, ERROR)")
		probeOnly  = flag.Bool("probe-encoders", false, "probe hardware encoders verbosely and exit")
	)
	flag.Parse()

	if err := run(*configPath, *logLevel, *probeOnly); err != nil {
		fmt.Fprintf(os.Stderr, "kanyo: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string, probeOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogsDir(), logging.ParseLevel(logLevel), true)
	if err != nil {
		return err
	}
	root := log.Module("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := encoder.NewProbe("", log)
	if probeOnly {
		kind := probe.DetectVerbose(ctx)
		fmt.Printf("selected encoder: %s\n", kind)
		return nil
	}

	root.Infof("starting stream %q from %s", cfg.StreamID, cfg.VideoSource)

	resolver := capture.NewResolver("", cfg.MaxStreamHeight, log)
	capt := capture.New(cfg.VideoSource, resolver, log)
	detector := detect.NewHTTPDetector(cfg.DetectorEndpoint, log)
	store := events.NewStore(cfg.ClipsRoot(), cfg.Location(), log)

	var backend notify.Notifier = notify.NopNotifier{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backend = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		root.Infof("telegram notifications enabled")
	}
	gate := notify.NewGate(backend, cfg.NotificationCooldownMinutes, cfg.SubjectLabel, log)

	idx, err := index.Open(filepath.Join(cfg.StreamDir(), "visits.db"))
	if err != nil {
		root.Warnf("visit index unavailable: %v", err)
		idx = nil
	} else {
		defer idx.Close()
	}

	mon := monitor.New(cfg, log, capt, detector, store, idx, gate, probe)

	hub := admin.NewHub(log)
	mon.Sink = func(eventType string, ts time.Time, meta map[string]interface{}) {
		hub.Broadcast(admin.EventMessage{Type: eventType, Timestamp: ts, Meta: meta})
	}
	adminSrv := admin.NewServer(cfg, configPath, mon, store, idx, hub, log)

	if err := serve(ctx, mon.Run, adminSrv.Run); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	root.Infof("shutdown complete")
	return nil
}

// serve runs the monitor and the admin server together. Both stop when
// either finishes: the monitor returning cleanly (runtime cap, stream
// end) must still bring the admin listener down, or Wait would block
// forever on a server with no stream behind it.
func serve(ctx context.Context, runMonitor, runAdmin func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	sctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return runMonitor(sctx)
	})
	g.Go(func() error {
		err := runAdmin(sctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}
