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
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/kiosk/internal/api"
	"github.com/your-org/kiosk/internal/api/handlers"
	"github.com/your-org/kiosk/internal/api/ws"
	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/observability"
	"github.com/your-org/kiosk/internal/queue"
	"github.com/your-org/kiosk/internal/recognition"
	"github.com/your-org/kiosk/internal/rfid"
	"github.com/your-org/kiosk/internal/storage"
	"github.com/your-org/kiosk/internal/vision"
	"github.com/your-org/kiosk/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting attendance API service", "port", cfg.Server.Port)

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
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	gallery := recognition.NewGallery(db)
	if err := gallery.Reload(context.Background()); err != nil {
		slog.Error("load face gallery", "error", err)
		os.Exit(1)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Relay kiosk activity to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeAttendance(ctx, "api-attendance", func(ctx context.Context, msg jetstream.Msg) error {
		var event models.AttendanceEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			slog.Error("unmarshal attendance event", "error", err)
			return nil
		}
		hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSTypeAttendance, KioskID: event.KioskID, Data: event})
		return nil
	})
	if err != nil {
		slog.Warn("start attendance consumer", "error", err)
	}

	err = consumer.ConsumeTaps(ctx, "api-taps", func(ctx context.Context, msg jetstream.Msg) error {
		var tap rfid.Tap
		if err := json.Unmarshal(msg.Data(), &tap); err != nil {
			slog.Error("unmarshal rfid tap", "error", err)
			return nil
		}
		hub.BroadcastEvent(&dto.WSEvent{Type: dto.WSTypeRFIDTap, KioskID: tap.KioskID, Data: tap})
		return nil
	})
	if err != nil {
		slog.Warn("start tap consumer", "error", err)
	}

	// Face enrollment needs the detector and embedder; without them the
	// API still serves everything else.
	var embedFn func(context.Context, []byte) ([]float32, error)

	if destroyRuntime, err := vision.InitRuntime(); err != nil {
		slog.Warn("onnx runtime init failed, face enrollment unavailable", "error", err)
	} else {
		defer destroyRuntime()
		visionModels, err := vision.Load(cfg.Vision, cfg.AntiSpoofing.Threshold)
		if err != nil {
			slog.Warn("vision models unavailable, face enrollment disabled", "error", err)
		} else {
			defer visionModels.Close()
			embedFn = visionModels.EmbedPhoto
			slog.Info("vision models ready for face enrollment")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:  cfg.Server.APIKey,
		Store:   db,
		Gallery: gallery,
		Photos:  minioStore,
		Control: producer,
		Hub:     hub,
		Checks: map[string]handlers.Check{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
		},
		Stats: func(ctx context.Context) map[string]any {
			stats := map[string]any{
				"gallery_size":      gallery.Len(),
				"websocket_clients": hub.ClientCount(),
			}
			if students, err := db.ListStudents(ctx, ""); err == nil {
				stats["students"] = len(students)
			}
			return stats
		},
		EmbedFn: embedFn,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
