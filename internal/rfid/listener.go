package rfid

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/observability"
)

// Tap is one card read delivered by a reader.
type Tap struct {
	KioskID  string    `json:"kiosk_id"`
	CardID   string    `json:"card_id"`
	IsNew    bool      `json:"is_new"`
	Identity string    `json:"identity,omitempty"`
	At       time.Time `json:"at"`
}

// CardDirectory resolves card ids to student names.
type CardDirectory interface {
	LookupCard(ctx context.Context, cardID string) (name string, found bool, err error)
}

type TapPublisher interface {
	PublishTap(ctx context.Context, tap Tap) error
}

type tapRequest struct {
	CardID string `json:"card_id" binding:"required"`
}

// Listener accepts card reads from ESP32 readers over HTTP and authenticates
// the shared Session for known cards.
type Listener struct {
	kioskID   string
	session   *Session
	cards     CardDirectory
	publisher TapPublisher
	now       func() time.Time

	mu      sync.Mutex
	lastNew *Tap
}

func NewListener(kioskID string, session *Session, cards CardDirectory, publisher TapPublisher) *Listener {
	return &Listener{
		kioskID:   kioskID,
		session:   session,
		cards:     cards,
		publisher: publisher,
		now:       time.Now,
	}
}

// Register mounts the reader endpoints. Readers post either to / or /rfid.
func (l *Listener) Register(r gin.IRoutes) {
	r.POST("/", l.HandleTap)
	r.POST("/rfid", l.HandleTap)
	r.GET("/rfid/pending", l.HandlePending)
}

func (l *Listener) HandleTap(c *gin.Context) {
	var req tapRequest
	if err := c.ShouldBindJSON(&req); err != nil || models.NormalizeCardID(req.CardID) == "" {
		observability.RFIDTaps.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid data format"})
		return
	}

	tap, err := l.Process(c.Request.Context(), req.CardID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if tap.IsNew {
		c.JSON(http.StatusOK, gin.H{"status": "new_card", "message": "New card detected", "is_new": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "person": tap.Identity, "is_new": false})
}

// HandlePending returns the last unregistered card seen, for enrollment UIs.
func (l *Listener) HandlePending(c *gin.Context) {
	tap, ok := l.LastNewCard()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending card"})
		return
	}
	c.JSON(http.StatusOK, tap)
}

// Process resolves a card read and authenticates the session when the card
// is registered.
func (l *Listener) Process(ctx context.Context, rawCardID string) (Tap, error) {
	tap := Tap{
		KioskID: l.kioskID,
		CardID:  models.NormalizeCardID(rawCardID),
		At:      l.now(),
	}

	name, found, err := l.cards.LookupCard(ctx, tap.CardID)
	if err != nil {
		observability.RFIDTaps.WithLabelValues("error").Inc()
		slog.Error("lookup rfid card", "card_id", tap.CardID, "error", err)
		return tap, err
	}

	if found {
		tap.Identity = name
		l.session.Authenticate(name)
		observability.RFIDTaps.WithLabelValues("known").Inc()
		slog.Info("card authenticated", "card_id", tap.CardID, "identity", name)
	} else {
		tap.IsNew = true
		l.mu.Lock()
		pending := tap
		l.lastNew = &pending
		l.mu.Unlock()
		observability.RFIDTaps.WithLabelValues("new").Inc()
		slog.Info("new card detected", "card_id", tap.CardID)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishTap(ctx, tap); err != nil {
			slog.Warn("publish rfid tap", "card_id", tap.CardID, "error", err)
		}
	}
	return tap, nil
}

func (l *Listener) LastNewCard() (Tap, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastNew == nil {
		return Tap{}, false
	}
	return *l.lastNew, true
}
