package dto

type CreateStudentRequest struct {
	Name      string `json:"name" binding:"required"`
	ClassName string `json:"class_name" binding:"required"`
	StudentID string `json:"student_id"`
	Email     string `json:"email"`
	// Points defaults to 100 when omitted.
	Points *int `json:"points,omitempty"`
}

type StudentResponse struct {
	Name      string   `json:"name"`
	ClassName string   `json:"class_name"`
	StudentID string   `json:"student_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	Points    int      `json:"points"`
	Status    string   `json:"status"`
	FaceCount int      `json:"face_count"`
	Cards     []string `json:"cards,omitempty"`
	CreatedAt string   `json:"created_at"`
}

type StudentListResponse struct {
	Students []StudentResponse `json:"students"`
	Total    int               `json:"total"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type AdjustPointsRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason"`
}

type PointsResponse struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type PointHistoryResponse struct {
	Change    int    `json:"change"`
	NewTotal  int    `json:"new_total"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

// FaceUploadResponse is returned by POST /v1/students/:name/faces.
type FaceUploadResponse struct {
	Name      string `json:"name"`
	FaceCount int    `json:"face_count"`
	PhotoKey  string `json:"photo_key,omitempty"`
}

type RegisterCardRequest struct {
	CardID string `json:"card_id" binding:"required"`
}

type CardResponse struct {
	CardID      string `json:"card_id"`
	StudentName string `json:"student_name"`
	CreatedAt   string `json:"created_at"`
}

// VerifyRequest asks for a two-factor check of a face identity against a
// presented card.
type VerifyRequest struct {
	Identity string  `json:"identity" binding:"required"`
	CardID   *string `json:"card_id,omitempty"`
}

type VerifyResponse struct {
	Verified     bool   `json:"verified"`
	Reason       string `json:"reason"`
	CardIdentity string `json:"card_identity,omitempty"`
}
