package dto

type AttendanceResponse struct {
	Date               string  `json:"date"`
	StudentName        string  `json:"student_name"`
	TimeIn             string  `json:"time_in"`
	Confidence         float64 `json:"confidence"`
	VerificationMethod string  `json:"verification_method"`
	Status             string  `json:"status"`
	ClassName          string  `json:"class_name,omitempty"`
	SnapshotKey        string  `json:"snapshot_key,omitempty"`
}

type AttendanceListResponse struct {
	Date    string               `json:"date,omitempty"`
	Records []AttendanceResponse `json:"records"`
	Total   int                  `json:"total"`
}

type AttendanceQuery struct {
	Date  string `form:"date"`
	Class string `form:"class"`
}

type RangeQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type DailySummaryResponse struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Total   int    `json:"total"`
}

// WSEvent is a WebSocket message for real-time kiosk activity.
type WSEvent struct {
	Type    string `json:"type"` // attendance, rfid_tap
	KioskID string `json:"kiosk_id"`
	Data    any    `json:"data,omitempty"`
}

const (
	WSTypeAttendance = "attendance"
	WSTypeRFIDTap    = "rfid_tap"
)
