package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateSettingsCommands(t *testing.T) {
	tol := 0.5
	enabled := false

	cmds := UpdateSettingsRequest{
		KioskID:          "gate-a",
		Tolerance:        &tol,
		LateCutoff:       "08:45",
		AntiSpoofEnabled: &enabled,
	}.Commands()

	require.Len(t, cmds, 3)
	assert.Equal(t, CmdSetTolerance, cmds[0].Command)
	assert.Equal(t, &tol, cmds[0].Tolerance)
	assert.Equal(t, CmdSetRules, cmds[1].Command)
	assert.Equal(t, "08:45", cmds[1].LateCutoff)
	assert.Nil(t, cmds[1].MinConfidence)
	assert.Equal(t, CmdSetAntiSpoof, cmds[2].Command)
	for _, c := range cmds {
		assert.Equal(t, "gate-a", c.KioskID)
	}

	assert.Empty(t, UpdateSettingsRequest{}.Commands())
}
