package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/recognition"
	"github.com/your-org/kiosk/internal/storage"
)

// StudentStore is the registry side of storage.PostgresStore.
type StudentStore interface {
	CreateStudent(ctx context.Context, st models.Student) (*models.Student, error)
	GetStudent(ctx context.Context, name string) (*models.Student, error)
	ListStudents(ctx context.Context, className string) ([]models.Student, error)
	UpdateStudentStatus(ctx context.Context, name string, status models.StudentStatus) error
	DeleteStudent(ctx context.Context, name string) (bool, error)
	AdjustPoints(ctx context.Context, name string, delta int, reason string) (int, error)
	PointHistory(ctx context.Context, name string) ([]models.PointAdjustment, error)
	AddCard(ctx context.Context, cardID, name string) (*models.RFIDCard, error)
	RemoveCard(ctx context.Context, cardID string) (bool, error)
	LookupCard(ctx context.Context, cardID string) (string, bool, error)
	ListCards(ctx context.Context, name string) ([]models.RFIDCard, error)
}

// AttendanceStore is the attendance side of storage.PostgresStore.
type AttendanceStore interface {
	Get(ctx context.Context, date string) (map[string]models.AttendanceRecord, error)
	History(ctx context.Context, name, from, to string) ([]models.AttendanceRecord, error)
	Summary(ctx context.Context, from, to string) ([]models.DailySummary, error)
}

// Store is everything the admin API reads and writes.
type Store interface {
	StudentStore
	AttendanceStore
}

// PhotoStore keeps enrollment photos and attendance snapshots (MinIO).
type PhotoStore interface {
	SaveEnrollmentPhoto(ctx context.Context, identity string, data []byte, contentType string) (string, error)
	DeleteEnrollmentPhotos(ctx context.Context, identity string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ControlPublisher sends commands to running kiosks.
type ControlPublisher interface {
	PublishControl(data any) error
}

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInvalidDate),
		errors.Is(err, models.ErrEmptyIdentity),
		errors.Is(err, models.ErrReservedIdentity),
		errors.Is(err, models.ErrNameTooShort),
		errors.Is(err, models.ErrClassRequired),
		errors.Is(err, models.ErrPointsOutOfRange),
		errors.Is(err, models.ErrInvalidEmail),
		errors.Is(err, models.ErrInvalidStatus):
		status = http.StatusBadRequest
	case errors.Is(err, recognition.ErrDimensionMismatch):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
