package attendance

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/models"
)

func TestApplySpoofPenalty(t *testing.T) {
	r := DefaultRules()

	assert.Equal(t, 40.0, ApplySpoofPenalty(80, 0.2, r))
	assert.Equal(t, 80.0, ApplySpoofPenalty(80, 0.99, r))
	assert.Equal(t, 30.0, ApplySpoofPenalty(80, 0, r))
	assert.Equal(t, 0.0, ApplySpoofPenalty(10, 0, r))
}

func TestApplyRFIDBoost(t *testing.T) {
	r := DefaultRules()

	c, m := ApplyRFIDBoost(80, true, r)
	assert.Equal(t, 90.0, c)
	assert.Equal(t, models.VerifyFaceRFID, m)

	c, m = ApplyRFIDBoost(95, true, r)
	assert.Equal(t, 100.0, c)
	assert.Equal(t, models.VerifyFaceRFID, m)

	c, m = ApplyRFIDBoost(80, false, r)
	assert.Equal(t, 80.0, c)
	assert.Equal(t, models.VerifyFace, m)
}

func TestConfidenceStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := DefaultRules()

	for i := 0; i < 10000; i++ {
		conf := rng.Float64()*300 - 100
		rs := rng.Float64()*2 - 0.5

		p := ApplySpoofPenalty(conf, rs, r)
		require.GreaterOrEqual(t, p, 0.0, "penalty conf=%v real=%v", conf, rs)
		require.LessOrEqual(t, p, 100.0, "penalty conf=%v real=%v", conf, rs)

		b, _ := ApplyRFIDBoost(conf, rng.IntN(2) == 1, r)
		require.GreaterOrEqual(t, b, 0.0, "boost conf=%v", conf)
		require.LessOrEqual(t, b, 100.0, "boost conf=%v", conf)

		both, _ := ApplyRFIDBoost(p, true, r)
		require.GreaterOrEqual(t, both, p)
		require.LessOrEqual(t, both, 100.0)
	}
}

func TestStatusAt(t *testing.T) {
	r := DefaultRules()
	day := func(h, m, s, ns int) time.Time { return time.Date(2026, 3, 2, h, m, s, ns, time.Local) }

	assert.Equal(t, models.StatusPresent, r.StatusAt(day(8, 59, 59, 0)))
	assert.Equal(t, models.StatusPresent, r.StatusAt(day(9, 0, 0, 0)))
	assert.Equal(t, models.StatusLate, r.StatusAt(day(9, 0, 0, 1)))
	assert.Equal(t, models.StatusLate, r.StatusAt(day(9, 0, 30, 0)))
	assert.Equal(t, models.StatusLate, r.StatusAt(day(23, 59, 0, 0)))
	assert.Equal(t, models.StatusPresent, r.StatusAt(day(0, 0, 0, 0)))
}

func TestRulesFromConfig(t *testing.T) {
	cfg := config.Default()
	r, err := RulesFromConfig(cfg.Attendance)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)
	assert.Equal(t, "09:00", r.CutoffString())

	cfg.Attendance.LateCutoff = "8:75"
	_, err = RulesFromConfig(cfg.Attendance)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Attendance.MinConfidence = 120
	_, err = RulesFromConfig(cfg.Attendance)
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestRulesValidate(t *testing.T) {
	bad := []func(*Rules){
		func(r *Rules) { r.MinConfidence = -1 },
		func(r *Rules) { r.Cooldown = -time.Second },
		func(r *Rules) { r.LateCutoff = 24 * time.Hour },
		func(r *Rules) { r.LatePenalty = -5 },
		func(r *Rules) { r.RFIDBoost = -1 },
	}
	for i, mutate := range bad {
		r := DefaultRules()
		mutate(&r)
		assert.ErrorIs(t, r.Validate(), ErrInvalidRules, "case %d", i)
	}
	assert.NoError(t, DefaultRules().Validate())
}
