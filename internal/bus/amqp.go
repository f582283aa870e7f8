package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"spdropbot/internal/domain"
)

const (
	producerName       = "spdropbot"
	outcomeMessageType = "pipeline.outcome.v1"
	defaultRoutingKey  = "spdropbot.outcome"
	publishTimeout     = 5 * time.Second
)

// Meta describes an envelope on the wire.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the JSON body of every published message.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Publisher sends envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &rmqPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish opens a confirm-mode channel per message and waits for the broker ack.
func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	cid := ""
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msg.Meta.ID,
			CorrelationId: cid,
			Type:          msg.Meta.Type,
			AppId:         msg.Meta.Producer,
			Timestamp:     msg.Meta.Time,
			Body:          body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	if !acked {
		return errors.New("publish " + key + ": nacked by broker")
	}
	r.logger.Debug("published", "key", key, "exchange", r.exchange)
	return nil
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// OutcomePublisher forwards outcomes to a Publisher under "<routingKey>.<status>".
type OutcomePublisher struct {
	pub        Publisher
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.OutcomeSink = (*OutcomePublisher)(nil)

func NewOutcomePublisher(pub Publisher, routingKey string, logger *slog.Logger) *OutcomePublisher {
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}
	return &OutcomePublisher{pub: pub, routingKey: routingKey, logger: logger, now: time.Now}
}

// OutcomeEnvelope wraps an outcome for the wire. The outcome ID doubles as the
// correlation ID so consumers can join it with logs.
func OutcomeEnvelope(o domain.Outcome, now time.Time) Envelope {
	cid := o.ID
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: &cid,
			Producer:      producerName,
			Time:          now.UTC(),
			Type:          outcomeMessageType,
		},
		Data: o,
	}
}

// Record publishes the outcome. Broker failures are logged, never returned to the pipeline.
func (p *OutcomePublisher) Record(ctx context.Context, o domain.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	key := p.routingKey + "." + string(o.Status)
	if err := p.pub.Publish(ctx, key, OutcomeEnvelope(o, p.now())); err != nil {
		p.logger.Warn("outcome publish failed", "outcome", o.ID, "key", key, "err", err)
	}
}

// Close closes the underlying publisher.
func (p *OutcomePublisher) Close() error {
	return p.pub.Close()
}
