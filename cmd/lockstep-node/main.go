package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/health"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/metrics"
	"github.com/dd0wney/cluso-lockstep/pkg/session"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

func main() {
	configPath := flag.String("config", "cluster.yaml", "Cluster description file")
	nodeID := flag.String("node", "", "Id of this node in the cluster file")
	modeName := flag.String("mode", "cluster", "Operation mode: disabled, standalone, editor, cluster")
	transportKind := flag.String("transport", "", "Override the cluster transport (tcp, nng, zmq)")
	httpAddr := flag.String("http", ":8090", "Address for /metrics, /health and /status")
	frames := flag.Int("frames", 0, "Stop after this many frames (0 runs until interrupted)")
	fps := flag.Int("fps", 60, "Frame rate the primary paces the cluster at")
	heartbeat := flag.Uint64("heartbeat", 120, "Emit a heartbeat event every N frames (0 disables)")
	debug := flag.Bool("debug", false, "Log at debug level and panic when a frame starts with a dirty cache")
	flag.Parse()

	if *fps <= 0 {
		log.Fatalf("Invalid -fps %d", *fps)
	}
	mode, err := cluster.ParseOperationMode(*modeName)
	if err != nil {
		log.Fatalf("Invalid -mode: %v", err)
	}
	cfg, err := cluster.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load cluster config: %v", err)
	}

	logger := logging.NewDefaultLogger()
	if *debug {
		logger.SetLevel(logging.DebugLevel)
	}
	reg := metrics.DefaultRegistry()

	fmt.Printf("Cluso Lockstep - Node %s\n", *nodeID)
	fmt.Printf("==========================\n\n")

	s, err := session.New(session.Config{
		Cluster:   cfg,
		NodeID:    *nodeID,
		Mode:      mode,
		Transport: *transportKind,
		Debug:     *debug,
	}, session.Deps{
		Frames:  newWallClock(*fps),
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	app := &demoApp{
		spinner:  newSpinner("spinner", 90),
		interval: *heartbeat,
		logger:   logger.With(logging.Component("demo")),
	}
	if err := s.Registry().Register(app.spinner, syncobj.GroupTick); err != nil {
		log.Fatalf("Failed to register sync object: %v", err)
	}
	s.Events().AddJSONListener(events.JSONListenerFunc(app.onHeartbeat))

	hc := health.NewHealthChecker(*nodeID)
	s.RegisterHealthChecks(hc, 10*time.Second)

	srv := &http.Server{
		Addr:              *httpAddr,
		Handler:           newMux(s, hc, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", logging.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.UpdateSystemMetrics(started)
			}
		}
	}()

	fmt.Printf("Connecting (%s, %s)...\n", mode, cfg.Transport)
	if err := s.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	st := s.Status()
	fmt.Printf("\nNode started as %s\n", st.Role)
	fmt.Printf("  Session: %s\n", st.SessionID)
	fmt.Printf("  HTTP:    http://localhost%s/status\n\n", *httpAddr)

	runErr := run(ctx, s, app, *frames, time.Second/time.Duration(*fps))

	fmt.Printf("\nShutting down...\n")
	if err := s.Stop(); err != nil {
		logger.Warn("Session stop failed", logging.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("Session ended: %v", runErr)
	}
}

// run paces frames on the authority; every other node is held in step by
// the barriers and simply runs as fast as they release.
func run(ctx context.Context, s *session.Session, app session.Application, frames int, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	paced := s.Controller().IsPrimary()
	for n := 0; frames <= 0 || n < frames; n++ {
		if paced {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if _, err := s.RunFrame(ctx, app); err != nil {
			if errors.Is(err, session.ErrQuitRequested) {
				return nil
			}
			return err
		}
	}
	return nil
}
