package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/kiosk/internal/api/handlers"
	"github.com/your-org/kiosk/internal/api/ws"
	"github.com/your-org/kiosk/internal/auth"
	"github.com/your-org/kiosk/internal/recognition"
)

type RouterConfig struct {
	APIKey  string
	Store   handlers.Store
	Gallery *recognition.Gallery
	// Photos and Control are optional.
	Photos  handlers.PhotoStore
	Control handlers.ControlPublisher
	Hub     *ws.Hub
	Checks  map[string]handlers.Check
	Stats   func(ctx context.Context) map[string]any
	// EmbedFn extracts a face embedding from image bytes (from the vision models).
	EmbedFn func(ctx context.Context, imageData []byte) ([]float32, error)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	systemH.Stats = cfg.Stats
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/stats", systemH.StatsHandler)

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Students, faces, cards
	studentH := handlers.NewStudentHandler(cfg.Store, cfg.Gallery, cfg.Photos, cfg.Control)
	studentH.EmbedFn = cfg.EmbedFn
	v1.POST("/students", studentH.Create)
	v1.GET("/students", studentH.List)
	v1.GET("/students/:name", studentH.Get)
	v1.DELETE("/students/:name", studentH.Delete)
	v1.PUT("/students/:name/status", studentH.UpdateStatus)
	v1.POST("/students/:name/faces", studentH.AddFace)
	v1.POST("/students/:name/points", studentH.AdjustPoints)
	v1.GET("/students/:name/points", studentH.PointHistory)
	v1.POST("/students/:name/cards", studentH.AddCard)
	v1.DELETE("/cards/:card", studentH.RemoveCard)
	v1.POST("/verify", studentH.Verify)

	// Attendance
	attH := handlers.NewAttendanceHandler(cfg.Store, cfg.Photos)
	v1.GET("/attendance", attH.Daily)
	v1.GET("/students/:name/attendance", attH.History)
	v1.GET("/summary", attH.Summary)
	v1.GET("/snapshots/:date/:name", attH.Snapshot)

	// Kiosk control
	settingsH := handlers.NewSettingsHandler(cfg.Control)
	v1.PUT("/settings", settingsH.Update)
	v1.POST("/gallery/reload", settingsH.ReloadGallery)

	return r
}
