package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"kiosk_id"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded because recognition fell behind capture",
	})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"kiosk_id"})

	FacesRecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "faces_recognized_total",
		Help:      "Total number of faces matched to an enrolled student",
	}, []string{"kiosk_id"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "attendance_decisions_total",
		Help:      "Attendance decisions by outcome",
	}, []string{"decision"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "recognition_fps",
		Help:      "Frames processed during the last second",
	})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "gallery_embeddings",
		Help:      "Number of embeddings in the in-memory gallery",
	})

	RFIDTaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "rfid_taps_total",
		Help:      "RFID card taps by result",
	}, []string{"result"})

	SpoofClassifierErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "spoof_classifier_errors_total",
		Help:      "Anti-spoofing classifier failures",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
