package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/kiosk/internal/attendance"
	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/control"
	"github.com/your-org/kiosk/internal/ingest"
	"github.com/your-org/kiosk/internal/liveness"
	"github.com/your-org/kiosk/internal/observability"
	"github.com/your-org/kiosk/internal/queue"
	"github.com/your-org/kiosk/internal/recognition"
	"github.com/your-org/kiosk/internal/rfid"
	"github.com/your-org/kiosk/internal/storage"
	"github.com/your-org/kiosk/internal/vision"
)

// tapPublisher forwards resolved taps to the RFID stream.
type tapPublisher struct {
	producer *queue.Producer
}

func (p tapPublisher) PublishTap(ctx context.Context, tap rfid.Tap) error {
	return p.producer.PublishTap(ctx, tap.KioskID, tap)
}

type rawTap struct {
	CardID string `json:"card_id"`
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance kiosk",
		"kiosk_id", cfg.KioskID,
		"camera", cfg.Vision.CameraURL,
		"workers", cfg.Vision.WorkerCount,
	)

	destroyRuntime, err := vision.InitRuntime()
	if err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer destroyRuntime()

	visionModels, err := vision.Load(cfg.Vision, cfg.AntiSpoofing.Threshold)
	if err != nil {
		slog.Error("load vision models", "error", err)
		os.Exit(1)
	}
	defer visionModels.Close()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Recognition components
	gallery := recognition.NewGallery(db)
	if err := gallery.Reload(context.Background()); err != nil {
		slog.Error("load face gallery", "error", err)
		os.Exit(1)
	}

	matcher, err := recognition.NewMatcher(cfg.Recognition.Tolerance)
	if err != nil {
		slog.Error("init matcher", "error", err)
		os.Exit(1)
	}

	gate := liveness.NewGate(visionModels.Classifier(), liveness.Options{
		Enabled:      cfg.AntiSpoofing.Enabled,
		Threshold:    cfg.AntiSpoofing.Threshold,
		FailClosed:   cfg.AntiSpoofing.FailClosed,
		MotionVeto:   cfg.AntiSpoofing.MotionVeto,
		BufferSize:   cfg.AntiSpoofing.MaxFrameBuffer,
		MotionFrames: cfg.AntiSpoofing.MotionFrames,
	})

	session := rfid.NewSession(cfg.RFID.Timeout)

	rules, err := attendance.RulesFromConfig(cfg.Attendance)
	if err != nil {
		slog.Error("attendance rules", "error", err)
		os.Exit(1)
	}
	decider, err := attendance.NewDecider(rules, attendance.NewCooldown(), db, db, minioStore)
	if err != nil {
		slog.Error("init attendance decider", "error", err)
		os.Exit(1)
	}

	orch, err := recognition.NewOrchestrator(cfg.KioskID, recognition.Components{
		Detector: visionModels.Detector,
		Embedder: visionModels.Embedder,
		Gallery:  gallery,
		Matcher:  matcher,
		Gate:     gate,
		Session:  session,
		Decider:  decider,
	})
	if err != nil {
		slog.Error("init orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Runtime settings from the API
	applier := control.NewApplier(cfg.KioskID, gallery, matcher, session, decider, gate)
	controlSub, err := consumer.SubscribeControl(applier.HandleMessage)
	if err != nil {
		slog.Warn("subscribe control", "error", err)
	}

	// RFID reader endpoints and networked readers
	listener := rfid.NewListener(cfg.KioskID, session, db, tapPublisher{producer: producer})

	var rfidSrv *http.Server
	if cfg.RFID.Enabled {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		listener.Register(r)

		rfidSrv = &http.Server{
			Addr:         cfg.RFID.ListenAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("rfid listener ready", "addr", rfidSrv.Addr)
			if err := rfidSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("rfid server error", "error", err)
			}
		}()

		err = consumer.ConsumeRawTaps(ctx, cfg.KioskID, func(ctx context.Context, msg jetstream.Msg) error {
			var tap rawTap
			if err := json.Unmarshal(msg.Data(), &tap); err != nil {
				slog.Error("unmarshal raw tap", "error", err)
				return nil // Don't retry on unmarshal errors
			}
			if strings.TrimSpace(tap.CardID) == "" {
				slog.Warn("raw tap without card id")
				return nil
			}
			_, err := listener.Process(ctx, tap.CardID)
			return err
		})
		if err != nil {
			slog.Warn("start raw tap consumer", "error", err)
		}
	}

	// Capture, recognise, publish
	camera := ingest.NewCamera(cfg.Vision, 2)
	runner := recognition.NewRunner(orch, cfg.Vision.WorkerCount)
	results := make(chan recognition.FrameResult, runner.Workers())

	var pipeline errgroup.Group
	pipeline.Go(func() error {
		if err := camera.Run(ctx); err != nil {
			return fmt.Errorf("camera: %w", err)
		}
		return nil
	})
	pipeline.Go(func() error {
		return runner.Run(ctx, camera.Frames(), results)
	})
	pipeline.Go(func() error {
		for res := range results {
			publishResult(producer, cfg.KioskID, res)
		}
		return nil
	})

	// Metrics and status endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := camera.Healthy(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		camStatus, camErr := camera.Status()
		identity, since, active := session.Active()
		enabled, threshold := gate.Settings()
		status := map[string]any{
			"kiosk_id":      cfg.KioskID,
			"fps":           orch.FPS(),
			"camera":        camStatus,
			"camera_error":  camErr,
			"gallery_size":  gallery.Len(),
			"tolerance":     matcher.Tolerance(),
			"rfid_active":   active,
			"rfid_identity": identity,
			"anti_spoofing": map[string]any{
				"enabled":   enabled,
				"threshold": threshold,
				"buffered":  gate.BufferLen(),
				"stats":     gate.Stats(),
			},
		}
		if active {
			status["rfid_since"] = since
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	go func() {
		slog.Info("kiosk metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Wait() }()

	// Wait for shutdown, or for the camera to give up
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var pipelineErr error
	select {
	case <-quit:
		slog.Info("shutting down kiosk...")
		cancel()
		pipelineErr = <-pipelineDone
	case pipelineErr = <-pipelineDone:
		slog.Warn("capture pipeline ended, shutting down kiosk")
		cancel()
	}
	if pipelineErr != nil {
		slog.Error("pipeline stopped", "error", pipelineErr)
	}
	if controlSub != nil {
		_ = controlSub.Drain()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if rfidSrv != nil {
		if err := rfidSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("rfid server shutdown error", "error", err)
		}
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
	slog.Info("kiosk stopped")
	if pipelineErr != nil {
		os.Exit(1)
	}
}

// publishResult sends the frame's decisions to the attendance stream. A frame
// already in flight when shutdown starts is still published.
func publishResult(producer *queue.Producer, kioskID string, res recognition.FrameResult) {
	for _, event := range res.Events(kioskID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := producer.PublishAttendance(ctx, kioskID, recognition.MessageID(event), event)
		cancel()
		if err != nil {
			slog.Error("publish attendance event",
				"frame_id", event.FrameID,
				"identity", event.Identity,
				"error", err,
			)
		}
	}
}
