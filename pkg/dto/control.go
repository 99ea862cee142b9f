package dto

// Control commands understood by running kiosks.
const (
	CmdReloadGallery  = "reload_gallery"
	CmdSetTolerance   = "set_tolerance"
	CmdSetRFIDTimeout = "set_rfid_timeout"
	CmdSetRules       = "set_rules"
	CmdSetAntiSpoof   = "set_antispoof"
)

// ControlCommand is published on the kiosk control subject. An empty KioskID
// addresses every kiosk.
type ControlCommand struct {
	Command string `json:"command"`
	KioskID string `json:"kiosk_id,omitempty"`

	Tolerance   *float64 `json:"tolerance,omitempty"`
	RFIDTimeout string   `json:"rfid_timeout,omitempty"`

	MinConfidence *float64 `json:"min_confidence,omitempty"`
	LateCutoff    string   `json:"late_cutoff,omitempty"`
	Cooldown      string   `json:"cooldown,omitempty"`
	LatePenalty   *int     `json:"late_penalty,omitempty"`

	AntiSpoofEnabled   *bool    `json:"anti_spoof_enabled,omitempty"`
	AntiSpoofThreshold *float64 `json:"anti_spoof_threshold,omitempty"`
}

// UpdateSettingsRequest is the body of PUT /v1/settings. Only the fields that
// are set are pushed to the kiosks.
type UpdateSettingsRequest struct {
	KioskID            string   `json:"kiosk_id"`
	Tolerance          *float64 `json:"tolerance"`
	RFIDTimeout        string   `json:"rfid_timeout"`
	MinConfidence      *float64 `json:"min_confidence"`
	LateCutoff         string   `json:"late_cutoff"`
	Cooldown           string   `json:"cooldown"`
	LatePenalty        *int     `json:"late_penalty"`
	AntiSpoofEnabled   *bool    `json:"anti_spoof_enabled"`
	AntiSpoofThreshold *float64 `json:"anti_spoof_threshold"`
}

// Commands splits the request into one command per settings group.
func (r UpdateSettingsRequest) Commands() []ControlCommand {
	var cmds []ControlCommand
	if r.Tolerance != nil {
		cmds = append(cmds, ControlCommand{Command: CmdSetTolerance, KioskID: r.KioskID, Tolerance: r.Tolerance})
	}
	if r.RFIDTimeout != "" {
		cmds = append(cmds, ControlCommand{Command: CmdSetRFIDTimeout, KioskID: r.KioskID, RFIDTimeout: r.RFIDTimeout})
	}
	if r.MinConfidence != nil || r.LateCutoff != "" || r.Cooldown != "" || r.LatePenalty != nil {
		cmds = append(cmds, ControlCommand{
			Command:       CmdSetRules,
			KioskID:       r.KioskID,
			MinConfidence: r.MinConfidence,
			LateCutoff:    r.LateCutoff,
			Cooldown:      r.Cooldown,
			LatePenalty:   r.LatePenalty,
		})
	}
	if r.AntiSpoofEnabled != nil || r.AntiSpoofThreshold != nil {
		cmds = append(cmds, ControlCommand{
			Command:            CmdSetAntiSpoof,
			KioskID:            r.KioskID,
			AntiSpoofEnabled:   r.AntiSpoofEnabled,
			AntiSpoofThreshold: r.AntiSpoofThreshold,
		})
	}
	return cmds
}

type SettingsResponse struct {
	Published []ControlCommand `json:"published"`
}
