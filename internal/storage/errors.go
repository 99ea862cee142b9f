package storage

import (
	"errors"
	"time"

	"github.com/your-org/kiosk/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
	// ErrLengthMismatch is returned by Save when vectors and identities differ in length.
	ErrLengthMismatch = errors.New("vectors and identities differ in length")
)

// inRange reports whether date (YYYY-MM-DD) lies within [from, to]; empty
// bounds are open.
func inRange(date, from, to string) bool {
	return (from == "" || date >= from) && (to == "" || date <= to)
}

func validDate(s string) bool {
	_, err := parseDate(s)
	return err == nil
}

// parseDate returns nil for an empty string.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return nil, ErrInvalidDate
	}
	return &t, nil
}

func parseRange(from, to string) (*time.Time, *time.Time, error) {
	lo, err := parseDate(from)
	if err != nil {
		return nil, nil, err
	}
	hi, err := parseDate(to)
	if err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}
