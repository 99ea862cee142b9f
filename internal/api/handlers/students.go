package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/recognition"
	"github.com/your-org/kiosk/internal/rfid"
	"github.com/your-org/kiosk/pkg/dto"
)

const maxPhotoBytes = 10 << 20

type StudentHandler struct {
	store   StudentStore
	gallery *recognition.Gallery
	photos  PhotoStore
	control ControlPublisher
	// EmbedFn extracts a face embedding from image bytes.
	// Set this after the vision models are loaded.
	EmbedFn func(ctx context.Context, imageData []byte) ([]float32, error)
}

// NewStudentHandler builds the registry handler. photos and control may be
// nil; uploads are then not archived and kiosks are not told to reload.
func NewStudentHandler(store StudentStore, gallery *recognition.Gallery, photos PhotoStore, control ControlPublisher) *StudentHandler {
	return &StudentHandler{store: store, gallery: gallery, photos: photos, control: control}
}

func (h *StudentHandler) toResponse(st *models.Student, cards []models.RFIDCard) dto.StudentResponse {
	resp := dto.StudentResponse{
		Name:      st.Name,
		ClassName: st.ClassName,
		StudentID: st.StudentID,
		Email:     st.Email,
		Points:    st.Points,
		Status:    string(st.Status),
		FaceCount: h.gallery.Count(st.Name),
		CreatedAt: st.CreatedAt.Format(time.RFC3339),
	}
	for _, c := range cards {
		resp.Cards = append(resp.Cards, c.CardID)
	}
	return resp
}

func (h *StudentHandler) Create(c *gin.Context) {
	var req dto.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := models.Student{
		Name:      strings.TrimSpace(req.Name),
		ClassName: strings.TrimSpace(req.ClassName),
		StudentID: req.StudentID,
		Email:     req.Email,
		Points:    models.DefaultPoints,
		Status:    models.StudentActive,
	}
	if req.Points != nil {
		st.Points = *req.Points
	}
	if err := st.Validate(); err != nil {
		respondError(c, err)
		return
	}

	created, err := h.store.CreateStudent(c.Request.Context(), st)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(created, nil))
}

func (h *StudentHandler) List(c *gin.Context) {
	students, err := h.store.ListStudents(c.Request.Context(), c.Query("class"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.StudentResponse, 0, len(students))
	for i := range students {
		resp = append(resp, h.toResponse(&students[i], nil))
	}
	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

// lookup loads the student named in the path, writing 404 when absent.
func (h *StudentHandler) lookup(c *gin.Context) (*models.Student, bool) {
	st, err := h.store.GetStudent(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return nil, false
	}
	return st, true
}

func (h *StudentHandler) Get(c *gin.Context) {
	st, ok := h.lookup(c)
	if !ok {
		return
	}
	cards, err := h.store.ListCards(c.Request.Context(), st.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(st, cards))
}

// Delete removes the student with their cards, embeddings and enrollment
// photos. Attendance history is kept.
func (h *StudentHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	deleted, err := h.store.DeleteStudent(ctx, name)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	if _, err := h.gallery.Remove(ctx, name); err != nil {
		slog.Error("remove embeddings", "student", name, "error", err)
	}
	if h.photos != nil {
		if err := h.photos.DeleteEnrollmentPhotos(ctx, name); err != nil {
			slog.Warn("delete enrollment photos", "student", name, "error", err)
		}
	}
	h.notifyReload()

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *StudentHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.StudentStatus(req.Status)
	if !status.Valid() {
		respondError(c, models.ErrInvalidStatus)
		return
	}
	if err := h.store.UpdateStudentStatus(c.Request.Context(), c.Param("name"), status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// AddFace accepts a multipart image upload, extracts an embedding and adds it
// to the gallery.
func (h *StudentHandler) AddFace(c *gin.Context) {
	st, ok := h.lookup(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}
	if len(imageData) > maxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		return
	}

	ctx := c.Request.Context()
	embedding, err := h.EmbedFn(ctx, imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	if err := h.gallery.Add(ctx, st.Name, [][]float32{embedding}); err != nil {
		respondError(c, err)
		return
	}

	resp := dto.FaceUploadResponse{Name: st.Name, FaceCount: h.gallery.Count(st.Name)}
	if h.photos != nil {
		key, err := h.photos.SaveEnrollmentPhoto(ctx, st.Name, imageData, header.Header.Get("Content-Type"))
		if err != nil {
			slog.Warn("store enrollment photo", "student", st.Name, "error", err)
		} else {
			resp.PhotoKey = key
		}
	}
	h.notifyReload()

	c.JSON(http.StatusCreated, resp)
}

func (h *StudentHandler) AdjustPoints(c *gin.Context) {
	var req dto.AdjustPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual adjustment"
	}

	name := c.Param("name")
	points, err := h.store.AdjustPoints(c.Request.Context(), name, req.Delta, reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PointsResponse{Name: name, Points: points})
}

func (h *StudentHandler) PointHistory(c *gin.Context) {
	history, err := h.store.PointHistory(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.PointHistoryResponse, 0, len(history))
	for _, p := range history {
		resp = append(resp, dto.PointHistoryResponse{
			Change:    p.Change,
			NewTotal:  p.NewTotal,
			Reason:    p.Reason,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": resp, "total": len(resp)})
}

func (h *StudentHandler) AddCard(c *gin.Context) {
	var req dto.RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil || models.NormalizeCardID(req.CardID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card_id required"})
		return
	}

	card, err := h.store.AddCard(c.Request.Context(), req.CardID, c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.CardResponse{
		CardID:      card.CardID,
		StudentName: card.StudentName,
		CreatedAt:   card.CreatedAt.Format(time.RFC3339),
	})
}

func (h *StudentHandler) RemoveCard(c *gin.Context) {
	removed, err := h.store.RemoveCard(c.Request.Context(), c.Param("card"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Verify runs the two-factor check of a face identity against a card.
func (h *StudentHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cardName *string
	if req.CardID != nil && models.NormalizeCardID(*req.CardID) != "" {
		name, found, err := h.store.LookupCard(c.Request.Context(), *req.CardID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusOK, dto.VerifyResponse{Verified: false, Reason: "card not registered"})
			return
		}
		cardName = &name
	}

	ok, reason := rfid.TwoFactorVerify(models.ParseIdentity(req.Identity), cardName)
	resp := dto.VerifyResponse{Verified: ok, Reason: reason}
	if cardName != nil {
		resp.CardIdentity = *cardName
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StudentHandler) notifyReload() {
	if h.control == nil {
		return
	}
	if err := h.control.PublishControl(dto.ControlCommand{Command: dto.CmdReloadGallery}); err != nil {
		slog.Warn("publish gallery reload", "error", err)
	}
}
