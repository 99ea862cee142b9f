package attendance

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/kiosk/internal/liveness"
	"github.com/your-org/kiosk/internal/models"
	"github.com/your-org/kiosk/internal/observability"
)

const (
	MsgSpoofAlert      = "ALERT: Photo/Screen detected"
	MsgNotRecognized   = "Face not recognized"
	MsgAlreadyMarked   = "Already marked attendance"
	lateReason         = "late arrival"
	msgAlreadyMarkedAs = "Already marked as %s"
	msgTooLow          = "Confidence too low: %d%%"
	msgMarked          = "Attendance marked: %s"
	msgSaveFailed      = "Failed to save attendance: %v"
)

type Decision int

const (
	Committed Decision = iota
	Duplicate
	LowConfidence
	SpoofRejected
	// PersistFailed is a low-confidence-class rejection caused by the
	// attendance write failing.
	PersistFailed
)

func (d Decision) String() string {
	switch d {
	case Committed:
		return "committed"
	case Duplicate:
		return "duplicate"
	case LowConfidence:
		return "low_confidence"
	case SpoofRejected:
		return "spoof_rejected"
	case PersistFailed:
		return "persist_failed"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// AttendanceRepository stores one record per student per day. Put is an
// upsert and safe to retry.
type AttendanceRepository interface {
	Get(ctx context.Context, date string) (map[string]models.AttendanceRecord, error)
	Put(ctx context.Context, date, identity string, rec models.AttendanceRecord) error
}

// StudentRepository returns nil, nil for an unknown student.
type StudentRepository interface {
	GetStudent(ctx context.Context, name string) (*models.Student, error)
	AdjustPoints(ctx context.Context, name string, delta int, reason string) (int, error)
}

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, identity string, at time.Time, img image.Image) (string, error)
}

type Input struct {
	Identity     models.Identity
	Confidence   float64
	Liveness     liveness.Verdict
	RFIDVerified bool
	// Snapshot is stored alongside a committed record when set.
	Snapshot image.Image
}

type Outcome struct {
	Decision           Decision                  `json:"decision"`
	Status             models.AttendanceStatus   `json:"status,omitempty"`
	Identity           models.Identity           `json:"identity"`
	Confidence         float64                   `json:"confidence"`
	VerificationMethod models.VerificationMethod `json:"verification_method"`
	Timestamp          time.Time                 `json:"timestamp"`
	Message            string                    `json:"message"`
	// Points is the balance after a late penalty, nil when unchanged.
	Points      *int   `json:"points,omitempty"`
	SnapshotKey string `json:"snapshot_key,omitempty"`
	Err         error  `json:"-"`
}

func (o Outcome) Committed() bool { return o.Decision == Committed }

// Decider turns a recognised face into an attendance decision.
type Decider struct {
	records   AttendanceRepository
	students  StudentRepository
	snapshots SnapshotStore
	cooldown  *Cooldown
	now       func() time.Time

	mu    sync.RWMutex
	rules Rules
}

// NewDecider wires a decider. snapshots may be nil.
func NewDecider(rules Rules, cooldown *Cooldown, records AttendanceRepository, students StudentRepository, snapshots SnapshotStore) (*Decider, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if cooldown == nil {
		cooldown = NewCooldown()
	}
	return &Decider{
		records:   records,
		students:  students,
		snapshots: snapshots,
		cooldown:  cooldown,
		now:       time.Now,
		rules:     rules,
	}, nil
}

// WithClock replaces the time source.
func (d *Decider) WithClock(now func() time.Time) *Decider {
	d.now = now
	return d
}

func (d *Decider) Rules() Rules {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rules
}

// SetRules swaps the rules; invalid rules are rejected and the old ones kept.
func (d *Decider) SetRules(r Rules) error {
	if err := r.Validate(); err != nil {
		slog.Warn("rejected attendance rules", "error", err)
		return err
	}
	d.mu.Lock()
	d.rules = r
	d.mu.Unlock()
	slog.Info("attendance rules updated",
		"min_confidence", r.MinConfidence,
		"cooldown", r.Cooldown.String(),
		"late_cutoff", r.CutoffString(),
	)
	return nil
}

func (d *Decider) Evaluate(ctx context.Context, in Input) Outcome {
	out := d.evaluate(ctx, in)
	observability.Decisions.WithLabelValues(out.Decision.String()).Inc()
	return out
}

func (d *Decider) evaluate(ctx context.Context, in Input) Outcome {
	rules := d.Rules()
	now := d.now()
	out := Outcome{
		Identity:           in.Identity,
		Timestamp:          now,
		VerificationMethod: models.VerifyFace,
	}

	confidence := clampConfidence(in.Confidence)
	if !in.Liveness.IsReal {
		confidence = ApplySpoofPenalty(confidence, in.Liveness.RealScore, rules)
		if confidence < rules.SpoofFloor {
			out.Identity = models.Spoof
			out.Confidence = confidence
			out.Decision = SpoofRejected
			out.Message = MsgSpoofAlert
			slog.Warn("spoofing attempt rejected", "claimed", in.Identity.String(), "real_score", in.Liveness.RealScore)
			return out
		}
	}
	if in.Identity.IsSpoof() {
		out.Confidence = confidence
		out.Decision = SpoofRejected
		out.Message = MsgSpoofAlert
		return out
	}

	confidence, out.VerificationMethod = ApplyRFIDBoost(confidence, in.RFIDVerified, rules)
	out.Confidence = confidence

	if !in.Identity.IsKnown() {
		out.Decision = LowConfidence
		out.Message = MsgNotRecognized
		return out
	}
	if confidence < rules.MinConfidence {
		out.Decision = LowConfidence
		out.Message = fmt.Sprintf(msgTooLow, int(confidence))
		return out
	}

	name := in.Identity.Name()
	unlock := d.cooldown.Lock(name)
	defer unlock()

	if last, status, ok := d.cooldown.Last(name); ok && now.Sub(last) < rules.Cooldown {
		out.Decision = Duplicate
		out.Status = status
		out.Message = MsgAlreadyMarked
		if status != models.StatusNone {
			out.Message = fmt.Sprintf(msgAlreadyMarkedAs, status)
		}
		return out
	}

	status := rules.StatusAt(now)
	out.Status = status
	if status == models.StatusLate && rules.LatePenalty > 0 {
		points, err := d.students.AdjustPoints(ctx, name, -rules.LatePenalty, lateReason)
		if err != nil {
			slog.Error("deduct late points", "identity", name, "error", err)
		} else {
			out.Points = &points
		}
	}

	rec := models.AttendanceRecord{
		Date:               now.Format(models.DateLayout),
		StudentName:        name,
		TimeIn:             now,
		Confidence:         confidence,
		VerificationMethod: out.VerificationMethod,
		Status:             status,
	}
	if st, err := d.students.GetStudent(ctx, name); err != nil {
		slog.Warn("lookup student class", "identity", name, "error", err)
	} else if st != nil {
		rec.ClassName = st.ClassName
	}
	if d.snapshots != nil && in.Snapshot != nil {
		key, err := d.snapshots.SaveSnapshot(ctx, name, now, in.Snapshot)
		if err != nil {
			slog.Error("save attendance snapshot", "identity", name, "error", err)
		} else {
			rec.SnapshotKey = key
			out.SnapshotKey = key
		}
	}

	if err := d.records.Put(ctx, rec.Date, name, rec); err != nil {
		slog.Error("save attendance", "identity", name, "error", err)
		out.Decision = PersistFailed
		out.Err = err
		out.Message = fmt.Sprintf(msgSaveFailed, err)
		return out
	}

	d.cooldown.Record(name, now, status)
	out.Decision = Committed
	out.Message = fmt.Sprintf(msgMarked, status)
	slog.Info("attendance committed",
		"identity", name,
		"status", string(status),
		"confidence", confidence,
		"method", string(out.VerificationMethod),
	)
	return out
}
