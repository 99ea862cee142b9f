package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

type consumeSpec struct {
	stream     string
	name       string
	filter     string
	ackWait    time.Duration
	deliverNew bool
	batch      int
}

// ConsumeAttendance delivers attendance events from every kiosk (the API
// broadcasts them to websocket clients).
func (c *Consumer) ConsumeAttendance(ctx context.Context, consumerName string, handler MessageHandler) error {
	return c.consume(ctx, consumeSpec{
		stream:     AttendanceStreamName,
		name:       consumerName,
		filter:     AttendanceSubjectBase + ".>",
		ackWait:    10 * time.Second,
		deliverNew: true,
		batch:      10,
	}, handler)
}

// ConsumeTaps delivers resolved card taps from every kiosk.
func (c *Consumer) ConsumeTaps(ctx context.Context, consumerName string, handler MessageHandler) error {
	return c.consume(ctx, consumeSpec{
		stream:     RFIDStreamName,
		name:       consumerName,
		filter:     TapSubjectBase + ".>",
		ackWait:    10 * time.Second,
		deliverNew: true,
		batch:      10,
	}, handler)
}

// ConsumeRawTaps delivers card ids that networked readers published for
// kioskID.
func (c *Consumer) ConsumeRawTaps(ctx context.Context, kioskID string, handler MessageHandler) error {
	return c.consume(ctx, consumeSpec{
		stream:     RFIDStreamName,
		name:       "kiosk-raw-" + subjectToken(kioskID),
		filter:     Subject(RawTapSubjectBase, kioskID),
		ackWait:    5 * time.Second,
		deliverNew: true,
		batch:      1,
	}, handler)
}

// SubscribeControl calls handler for every command published on the control
// subject until the subscription is drained.
func (c *Consumer) SubscribeControl(handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject, err)
	}
	slog.Info("control subscription started", "subject", ControlSubject)
	return sub, nil
}

func (c *Consumer) consume(ctx context.Context, spec consumeSpec, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, spec.stream)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", spec.stream, err)
	}

	cfg := jetstream.ConsumerConfig{
		Name:          spec.name,
		Durable:       spec.name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       spec.ackWait,
		MaxDeliver:    3,
		FilterSubject: spec.filter,
	}
	if spec.deliverNew {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", spec.name, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(spec.batch, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch messages", "consumer", spec.name, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process message", "consumer", spec.name, "subject", msg.Subject(), "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("consumer started", "consumer", spec.name, "filter", spec.filter)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
