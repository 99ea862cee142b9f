package recognition

import (
	"strconv"

	"github.com/your-org/kiosk/internal/models"
)

// Events returns one attendance event per evaluated face, in detection order.
// Faces that were skipped or never reached a decision produce nothing.
func (r FrameResult) Events(kioskID string) []models.AttendanceEvent {
	var events []models.AttendanceEvent
	for i, face := range r.Faces {
		if !face.Evaluated || face.Outcome == nil {
			continue
		}
		o := face.Outcome
		events = append(events, models.AttendanceEvent{
			KioskID:            kioskID,
			FrameID:            r.FrameID,
			FaceIndex:          i,
			Identity:           o.Identity.String(),
			Decision:           o.Decision.String(),
			Status:             o.Status,
			Confidence:         o.Confidence,
			VerificationMethod: o.VerificationMethod,
			Message:            o.Message,
			Timestamp:          o.Timestamp,
		})
	}
	return events
}

// MessageID is the JetStream dedup id for an event. Several faces of one
// frame can share an identity (Unknown, Spoof), so the face index keys it.
func MessageID(e models.AttendanceEvent) string {
	return e.FrameID + ":" + strconv.Itoa(e.FaceIndex)
}
