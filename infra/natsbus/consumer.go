package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Tsinling0525/weir/model"
)

// Intake is the part of the engine facade fed from NATS.
type Intake interface {
	Start(ctx context.Context, trig model.TriggerInstance) (model.WorkflowInstance, error)
	Send(ctx context.Context, msg model.Message) (model.WorkflowInstance, error)
}

// Reply is sent back when a request carries a reply subject.
type Reply struct {
	Success bool                    `json:"success"`
	Data    *model.WorkflowInstance `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// Consumer turns trigger and message subjects into Start and Send calls.
type Consumer struct {
	intake  Intake
	prefix  string
	queue   string
	timeout time.Duration
	logger  *slog.Logger
	subs    []*nats.Subscription
	cons    []jetstream.ConsumeContext
}

func NewConsumer(intake Intake, prefix string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{intake: intake, prefix: prefix, queue: prefix + "-engine", timeout: 30 * time.Second, logger: logger}
}

// Subscribe joins the consumer's queue group on the core subjects, so
// several engines share the intake.
func (c *Consumer) Subscribe(nc *nats.Conn) error {
	for _, subj := range []string{TriggerSubject(c.prefix, "*"), MessageSubject(c.prefix)} {
		sub, err := nc.QueueSubscribe(subj, c.queue, func(m *nats.Msg) {
			reply, err := c.handle(m.Subject, m.Data)
			c.respond(m, reply, err)
		})
		if err != nil {
			c.Stop()
			return fmt.Errorf("natsbus: subscribe %s: %w", subj, err)
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

// Consume reads from a durable JetStream consumer on stream. Messages are
// acknowledged once handled; malformed ones are terminated, others retried.
func (c *Consumer) Consume(ctx context.Context, stream jetstream.Stream, durable string) error {
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   c.timeout,
	})
	if err != nil {
		return fmt.Errorf("natsbus: consumer %s: %w", durable, err)
	}
	cc, err := cons.Consume(func(m jetstream.Msg) {
		_, err := c.handle(m.Subject(), m.Data())
		switch {
		case err == nil:
			_ = m.Ack()
		case errors.Is(err, errMalformed):
			_ = m.Term()
		default:
			_ = m.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("natsbus: consume %s: %w", durable, err)
	}
	c.cons = append(c.cons, cc)
	return nil
}

// Stop unsubscribes from everything.
func (c *Consumer) Stop() {
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	for _, cc := range c.cons {
		cc.Stop()
	}
	c.subs, c.cons = nil, nil
}

var errMalformed = errors.New("malformed payload")

func (c *Consumer) handle(subject string, data []byte) (model.WorkflowInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	triggerPrefix := TriggerSubject(c.prefix, "")
	switch {
	case strings.HasPrefix(subject, triggerPrefix):
		var trig model.TriggerInstance
		if err := decode(data, &trig); err != nil {
			return model.WorkflowInstance{}, err
		}
		if trig.WorkflowID == "" && trig.SourceWorkflowID == "" {
			trig.WorkflowID = model.ID(strings.TrimPrefix(subject, triggerPrefix))
		}
		inst, err := c.intake.Start(ctx, trig)
		if err != nil {
			c.logger.Warn("nats trigger rejected", "subject", subject, "err", err)
			return inst, err
		}
		c.logger.Info("nats trigger accepted", "subject", subject, "instance", inst.ID)
		return inst, nil
	case subject == MessageSubject(c.prefix):
		var msg model.Message
		if err := decode(data, &msg); err != nil {
			return model.WorkflowInstance{}, err
		}
		if msg.ActivityInstanceID == "" {
			return model.WorkflowInstance{}, fmt.Errorf("message without activityInstanceId: %w", errMalformed)
		}
		inst, err := c.intake.Send(ctx, msg)
		if err != nil {
			c.logger.Warn("nats message rejected", "activityInstance", msg.ActivityInstanceID, "err", err)
		}
		return inst, err
	}
	return model.WorkflowInstance{}, fmt.Errorf("unexpected subject %q: %w", subject, errMalformed)
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%v: %w", err, errMalformed)
	}
	return nil
}

func (c *Consumer) respond(m *nats.Msg, inst model.WorkflowInstance, err error) {
	if m.Reply == "" {
		return
	}
	r := Reply{Success: err == nil}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Data = &inst
	}
	data, merr := json.Marshal(r)
	if merr != nil {
		c.logger.Error("encode nats reply", "err", merr)
		return
	}
	if err := m.Respond(data); err != nil {
		c.logger.Warn("nats reply failed", "subject", m.Reply, "err", err)
	}
}
