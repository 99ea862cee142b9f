package models

import "time"

type AttendanceStatus string

const (
	StatusNone    AttendanceStatus = ""
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
)

type VerificationMethod string

const (
	VerifyFace     VerificationMethod = "face"
	VerifyFaceRFID VerificationMethod = "face+rfid"
)

// DateLayout is the calendar-day key attendance rows are grouped by.
const DateLayout = "2006-01-02"

// AttendanceRecord is one committed attendance mark for a student on a day.
type AttendanceRecord struct {
	Date               string             `json:"date" db:"date"`
	StudentName        string             `json:"student_name" db:"student_name"`
	TimeIn             time.Time          `json:"time_in" db:"time_in"`
	Confidence         float64            `json:"confidence" db:"confidence"`
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	Status             AttendanceStatus   `json:"status" db:"status"`
	ClassName          string             `json:"class_name" db:"class_name"`
	SnapshotKey        string             `json:"snapshot_key,omitempty" db:"snapshot_key"`
}

// AttendanceEvent is published for every evaluated face so dashboards can
// show both commits and rejections.
type AttendanceEvent struct {
	KioskID string `json:"kiosk_id"`
	FrameID string `json:"frame_id"`
	// FaceIndex is the face's position in the frame's detection order.
	FaceIndex          int                `json:"face_index"`
	Identity           string             `json:"identity"`
	Decision           string             `json:"decision"`
	Status             AttendanceStatus   `json:"status,omitempty"`
	Confidence         float64            `json:"confidence"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	Message            string             `json:"message"`
	Timestamp          time.Time          `json:"timestamp"`
}

// DailySummary counts the marks recorded on one day.
type DailySummary struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
}
