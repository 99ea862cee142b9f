package models

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

const (
	MinPoints     = 0
	MaxPoints     = 100
	DefaultPoints = 100
)

type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentInactive  StudentStatus = "inactive"
	StudentSuspended StudentStatus = "suspended"
	StudentGraduated StudentStatus = "graduated"
)

func (s StudentStatus) Valid() bool {
	switch s {
	case StudentActive, StudentInactive, StudentSuspended, StudentGraduated:
		return true
	}
	return false
}

var (
	ErrNameTooShort     = errors.New("student name must be at least 2 characters long")
	ErrClassRequired    = errors.New("class name is required")
	ErrPointsOutOfRange = errors.New("student points must be between 0 and 100")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrInvalidStatus    = errors.New("invalid student status")
)

type Student struct {
	Name      string        `json:"name" db:"name"`
	ClassName string        `json:"class_name" db:"class_name"`
	StudentID string        `json:"student_id,omitempty" db:"student_id"`
	Email     string        `json:"email,omitempty" db:"email"`
	Points    int           `json:"points" db:"points"`
	Status    StudentStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// Validate checks registry rules. The name must also pass
// ValidateEnrollmentName since it doubles as the gallery identity.
func (s Student) Validate() error {
	if err := ValidateEnrollmentName(s.Name); err != nil {
		return err
	}
	if len(strings.TrimSpace(s.Name)) < 2 {
		return ErrNameTooShort
	}
	if strings.TrimSpace(s.ClassName) == "" {
		return ErrClassRequired
	}
	if s.Points < MinPoints || s.Points > MaxPoints {
		return ErrPointsOutOfRange
	}
	if s.Email != "" {
		if _, err := mail.ParseAddress(s.Email); err != nil {
			return ErrInvalidEmail
		}
	}
	if s.Status != "" && !s.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (s Student) IsActive() bool {
	return s.Status == "" || s.Status == StudentActive
}

// ClampPoints keeps a balance inside [MinPoints, MaxPoints].
func ClampPoints(p int) int {
	if p < MinPoints {
		return MinPoints
	}
	if p > MaxPoints {
		return MaxPoints
	}
	return p
}

// PointAdjustment is one entry of a student's point history.
type PointAdjustment struct {
	StudentName string    `json:"student_name" db:"student_name"`
	Change      int       `json:"change" db:"change"`
	NewTotal    int       `json:"new_total" db:"new_total"`
	Reason      string    `json:"reason" db:"reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type RFIDCard struct {
	CardID      string    `json:"card_id" db:"card_id"`
	StudentName string    `json:"student_name" db:"student_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NormalizeCardID upper-cases and trims a reader-supplied card id.
func NormalizeCardID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
