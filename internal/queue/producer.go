package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
	RFIDStreamName        = "RFID"
	RFIDSubjectBase       = "rfid"
	// TapSubjectBase carries resolved taps published by kiosks.
	TapSubjectBase = RFIDSubjectBase + ".taps"
	// RawTapSubjectBase carries card ids from networked readers, one subject
	// per kiosk.
	RawTapSubjectBase = RFIDSubjectBase + ".raw"
	// ControlSubject is core NATS; commands are not persisted.
	ControlSubject = "kiosk.control"
)

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        AttendanceStreamName,
			Subjects:    []string{AttendanceSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  2 * time.Minute,
			Description: "Attendance decisions from kiosks",
		},
		{
			Name:        RFIDStreamName,
			Subjects:    []string{RFIDSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "RFID card reads",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := streamConfigs()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishAttendance publishes an attendance event for kioskID. msgID, when
// set, lets JetStream drop redelivered duplicates.
func (p *Producer) PublishAttendance(ctx context.Context, kioskID, msgID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := p.js.Publish(ctx, Subject(AttendanceSubjectBase, kioskID), payload, opts...); err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

// PublishTap publishes a resolved card tap.
func (p *Producer) PublishTap(ctx context.Context, kioskID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal rfid tap: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(TapSubjectBase, kioskID), payload); err != nil {
		return fmt.Errorf("publish rfid tap: %w", err)
	}
	return nil
}

// PublishControl broadcasts a command to running kiosks.
func (p *Producer) PublishControl(data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal control command: %w", err)
	}
	if err := p.nc.Publish(ControlSubject, payload); err != nil {
		return fmt.Errorf("publish control command: %w", err)
	}
	return nil
}

// StreamMessages returns the number of messages retained in a stream.
func (p *Producer) StreamMessages(ctx context.Context, name string) (uint64, error) {
	stream, err := p.js.Stream(ctx, name)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

// Subject joins a subject base and a kiosk id. NATS tokens cannot contain
// dots, spaces or wildcards, so those are replaced.
func Subject(base, kioskID string) string {
	return base + "." + subjectToken(kioskID)
}

func subjectToken(s string) string {
	if s == "" {
		return "default"
	}
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '.', ' ', '*', '>', '\t':
			out[i] = '_'
		}
	}
	return string(out)
}
