package recognition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/attendance"
	"github.com/your-org/kiosk/internal/models"
)

func TestFrameResultEventsSkipsUnevaluatedFaces(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 15, 0, 0, time.Local)
	res := FrameResult{
		FrameID: "f1",
		Faces: []FaceResult{
			{
				Evaluated: true,
				Outcome: &attendance.Outcome{
					Decision:           attendance.Committed,
					Status:             models.StatusPresent,
					Identity:           models.Known("alice"),
					Confidence:         91,
					VerificationMethod: models.VerifyFace,
					Timestamp:          at,
					Message:            "Welcome alice",
				},
			},
			{Evaluated: false},
			{Evaluated: true},
		},
	}

	events := res.Events("gate-1")
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "gate-1", e.KioskID)
	assert.Equal(t, "f1", e.FrameID)
	assert.Equal(t, "alice", e.Identity)
	assert.Equal(t, attendance.Committed.String(), e.Decision)
	assert.Equal(t, models.StatusPresent, e.Status)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, 0, e.FaceIndex)
	assert.Equal(t, "f1:0", MessageID(e))
}

func TestMessageIDDistinguishesFacesWithSameIdentity(t *testing.T) {
	unknown := func() FaceResult {
		return FaceResult{
			Evaluated: true,
			Outcome: &attendance.Outcome{
				Decision: attendance.LowConfidence,
				Identity: models.Unknown,
			},
		}
	}
	spoof := FaceResult{
		Evaluated: true,
		Outcome: &attendance.Outcome{
			Decision: attendance.SpoofRejected,
			Identity: models.Spoof,
			Message:  attendance.MsgSpoofAlert,
		},
	}
	res := FrameResult{FrameID: "f3", Faces: []FaceResult{unknown(), unknown(), spoof, spoof}}

	events := res.Events("gate-1")
	require.Len(t, events, 4)

	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		ids[MessageID(e)] = struct{}{}
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, events[0].Identity, events[1].Identity)
}

func TestFrameResultEventsEmptyFrame(t *testing.T) {
	assert.Empty(t, FrameResult{FrameID: "f2"}.Events("gate-1"))
}
