package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/pkg/dto"
)

type AttendanceHandler struct {
	store  AttendanceStore
	photos PhotoStore
	now    func() time.Time
}

func NewAttendanceHandler(store AttendanceStore, photos PhotoStore) *AttendanceHandler {
	return &AttendanceHandler{store: store, photos: photos, now: time.Now}
}

func toAttendanceResponse(r models.AttendanceRecord) dto.AttendanceResponse {
	return dto.AttendanceResponse{
		Date:               r.Date,
		StudentName:        r.StudentName,
		TimeIn:             r.TimeIn.Format(time.RFC3339),
		Confidence:         r.Confidence,
		VerificationMethod: string(r.VerificationMethod),
		Status:             string(r.Status),
		ClassName:          r.ClassName,
		SnapshotKey:        r.SnapshotKey,
	}
}

// Daily lists one day's marks in arrival order, optionally for one class.
// The day defaults to today in local time.
func (h *AttendanceHandler) Daily(c *gin.Context) {
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Date == "" {
		q.Date = h.now().Format(models.DateLayout)
	}

	day, err := h.store.Get(c.Request.Context(), q.Date)
	if err != nil {
		respondError(c, err)
		return
	}

	records := make([]models.AttendanceRecord, 0, len(day))
	for _, rec := range day {
		if q.Class == "" || rec.ClassName == q.Class {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].TimeIn.Equal(records[j].TimeIn) {
			return records[i].TimeIn.Before(records[j].TimeIn)
		}
		return records[i].StudentName < records[j].StudentName
	})

	resp := make([]dto.AttendanceResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toAttendanceResponse(rec))
	}
	c.JSON(http.StatusOK, dto.AttendanceListResponse{Date: q.Date, Records: resp, Total: len(resp)})
}

// History lists a student's marks between optional from/to days.
func (h *AttendanceHandler) History(c *gin.Context) {
	var q dto.RangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.store.History(c.Request.Context(), c.Param("name"), q.From, q.To)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.AttendanceResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toAttendanceResponse(rec))
	}
	c.JSON(http.StatusOK, dto.AttendanceListResponse{Records: resp, Total: len(resp)})
}

func (h *AttendanceHandler) Summary(c *gin.Context) {
	var q dto.RangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	days, err := h.store.Summary(c.Request.Context(), q.From, q.To)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.DailySummaryResponse, 0, len(days))
	for _, d := range days {
		resp = append(resp, dto.DailySummaryResponse{
			Date:    d.Date,
			Present: d.Present,
			Late:    d.Late,
			Total:   d.Present + d.Late,
		})
	}
	c.JSON(http.StatusOK, gin.H{"days": resp, "total": len(resp)})
}

// Snapshot streams the face crop stored with an attendance mark.
func (h *AttendanceHandler) Snapshot(c *gin.Context) {
	day, err := h.store.Get(c.Request.Context(), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	rec, ok := day[c.Param("name")]
	if !ok || rec.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	if h.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage not configured"})
		return
	}

	data, err := h.photos.GetObject(c.Request.Context(), rec.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}
