package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "attendance.gate-1", Subject(AttendanceSubjectBase, "gate-1"))
	assert.Equal(t, "rfid.taps.lab_2_east", Subject(TapSubjectBase, "lab.2 east"))
	assert.Equal(t, "rfid.raw.default", Subject(RawTapSubjectBase, ""))
	assert.Equal(t, "attendance.a__", Subject(AttendanceSubjectBase, "a*>"))
}

func TestStreamsCoverPublishedSubjects(t *testing.T) {
	covered := func(subject string) bool {
		for _, cfg := range streamConfigs() {
			for _, s := range cfg.Subjects {
				if strings.HasPrefix(subject, strings.TrimSuffix(s, ">")) {
					return true
				}
			}
		}
		return false
	}

	assert.True(t, covered(Subject(AttendanceSubjectBase, "k1")))
	assert.True(t, covered(Subject(TapSubjectBase, "k1")))
	assert.True(t, covered(Subject(RawTapSubjectBase, "k1")))
	assert.False(t, covered(ControlSubject))
}
