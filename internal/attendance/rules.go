package attendance

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/models"
)

var ErrInvalidRules = errors.New("invalid attendance rules")

// Rules are the thresholds Evaluate applies.
type Rules struct {
	MinConfidence float64
	Cooldown      time.Duration
	// LateCutoff is an offset from local midnight.
	LateCutoff      time.Duration
	LatePenalty     int
	SpoofFloor      float64
	SpoofMaxPenalty float64
	RFIDBoost       float64
}

func DefaultRules() Rules {
	return Rules{
		MinConfidence:   85,
		Cooldown:        5 * time.Minute,
		LateCutoff:      9 * time.Hour,
		LatePenalty:     5,
		SpoofFloor:      40,
		SpoofMaxPenalty: 50,
		RFIDBoost:       10,
	}
}

func RulesFromConfig(cfg config.AttendanceConfig) (Rules, error) {
	cutoff, err := cfg.Cutoff()
	if err != nil {
		return Rules{}, err
	}
	r := Rules{
		MinConfidence:   cfg.MinConfidence,
		Cooldown:        cfg.Cooldown,
		LateCutoff:      cutoff,
		LatePenalty:     cfg.LatePenalty,
		SpoofFloor:      cfg.SpoofFloor,
		SpoofMaxPenalty: cfg.SpoofMaxPenalty,
		RFIDBoost:       cfg.RFIDBoost,
	}
	return r, r.Validate()
}

func (r Rules) Validate() error {
	switch {
	case r.MinConfidence < 0 || r.MinConfidence > 100:
		return fmt.Errorf("%w: min confidence %v outside [0,100]", ErrInvalidRules, r.MinConfidence)
	case r.Cooldown < 0:
		return fmt.Errorf("%w: negative cooldown", ErrInvalidRules)
	case r.LateCutoff < 0 || r.LateCutoff >= 24*time.Hour:
		return fmt.Errorf("%w: late cutoff %v outside the day", ErrInvalidRules, r.LateCutoff)
	case r.LatePenalty < 0:
		return fmt.Errorf("%w: negative late penalty", ErrInvalidRules)
	case r.SpoofMaxPenalty < 0 || r.RFIDBoost < 0:
		return fmt.Errorf("%w: negative spoof penalty or rfid boost", ErrInvalidRules)
	}
	return nil
}

// StatusAt is Present when the local time of day is at or before the cutoff.
func (r Rules) StatusAt(t time.Time) models.AttendanceStatus {
	if TimeOfDay(t) <= r.LateCutoff {
		return models.StatusPresent
	}
	return models.StatusLate
}

// CutoffString renders the cutoff as "HH:MM".
func (r Rules) CutoffString() string {
	return fmt.Sprintf("%02d:%02d", int(r.LateCutoff.Hours()), int(r.LateCutoff.Minutes())%60)
}

func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// ApplySpoofPenalty subtracts up to SpoofMaxPenalty whole points, scaled by
// how far the real score is from 1. The result never drops below 0.
func ApplySpoofPenalty(confidence, realScore float64, r Rules) float64 {
	realScore = math.Max(0, math.Min(1, realScore))
	penalty := math.Trunc((1 - realScore) * r.SpoofMaxPenalty)
	return clampConfidence(confidence - penalty)
}

// ApplyRFIDBoost raises confidence for card-corroborated faces, capped at 100.
func ApplyRFIDBoost(confidence float64, verified bool, r Rules) (float64, models.VerificationMethod) {
	if !verified {
		return clampConfidence(confidence), models.VerifyFace
	}
	return clampConfidence(confidence + r.RFIDBoost), models.VerifyFaceRFID
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(100, c))
}
