package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/kiosk/internal/attendance"
	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/liveness"
	"github.com/your-org/kiosk/internal/recognition"
	"github.com/your-org/kiosk/internal/rfid"
	"github.com/your-org/kiosk/pkg/dto"
)

var (
	ErrUnknownCommand = errors.New("unknown control command")
	ErrMissingField   = errors.New("missing control field")
)

// Applier applies runtime control commands to the recognition components of
// one kiosk.
type Applier struct {
	kioskID string
	gallery *recognition.Gallery
	matcher *recognition.Matcher
	session *rfid.Session
	decider *attendance.Decider
	gate    *liveness.Gate
}

func NewApplier(kioskID string, gallery *recognition.Gallery, matcher *recognition.Matcher,
	session *rfid.Session, decider *attendance.Decider, gate *liveness.Gate) *Applier {
	return &Applier{
		kioskID: kioskID,
		gallery: gallery,
		matcher: matcher,
		session: session,
		decider: decider,
		gate:    gate,
	}
}

// HandleMessage decodes a control message and applies it. Failures are
// logged; commands addressed to another kiosk are ignored.
func (a *Applier) HandleMessage(data []byte) {
	var cmd dto.ControlCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		slog.Warn("invalid control message", "error", err)
		return
	}
	if cmd.KioskID != "" && cmd.KioskID != a.kioskID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Apply(ctx, cmd); err != nil {
		slog.Warn("control command rejected", "command", cmd.Command, "error", err)
		return
	}
	slog.Info("control command applied", "command", cmd.Command)
}

// Apply executes cmd. Invalid values leave the current settings in place.
func (a *Applier) Apply(ctx context.Context, cmd dto.ControlCommand) error {
	switch cmd.Command {
	case dto.CmdReloadGallery:
		return a.gallery.Reload(ctx)

	case dto.CmdSetTolerance:
		if cmd.Tolerance == nil {
			return fmt.Errorf("%w: tolerance", ErrMissingField)
		}
		return a.matcher.SetTolerance(*cmd.Tolerance)

	case dto.CmdSetRFIDTimeout:
		d, err := time.ParseDuration(cmd.RFIDTimeout)
		if err != nil {
			return fmt.Errorf("parse rfid timeout: %w", err)
		}
		return a.session.SetTimeout(d)

	case dto.CmdSetRules:
		rules, err := mergeRules(a.decider.Rules(), cmd)
		if err != nil {
			return err
		}
		return a.decider.SetRules(rules)

	case dto.CmdSetAntiSpoof:
		enabled, threshold := a.gate.Settings()
		if cmd.AntiSpoofEnabled != nil {
			enabled = *cmd.AntiSpoofEnabled
		}
		if cmd.AntiSpoofThreshold != nil {
			threshold = *cmd.AntiSpoofThreshold
		}
		return a.gate.UpdateSettings(enabled, threshold)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
}

// mergeRules overlays the fields set in cmd onto current.
func mergeRules(current attendance.Rules, cmd dto.ControlCommand) (attendance.Rules, error) {
	r := current
	if cmd.MinConfidence != nil {
		r.MinConfidence = *cmd.MinConfidence
	}
	if cmd.LateCutoff != "" {
		cutoff, err := config.ParseTimeOfDay(cmd.LateCutoff)
		if err != nil {
			return current, err
		}
		r.LateCutoff = cutoff
	}
	if cmd.Cooldown != "" {
		d, err := time.ParseDuration(cmd.Cooldown)
		if err != nil {
			return current, fmt.Errorf("parse cooldown: %w", err)
		}
		r.Cooldown = d
	}
	if cmd.LatePenalty != nil {
		r.LatePenalty = *cmd.LatePenalty
	}
	return r, nil
}
