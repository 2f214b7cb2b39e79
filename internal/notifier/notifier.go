// internal/notifier/notifier.go
package notifier

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// Event is an organization-level notification emitted when a broadcast
// message reaches an outcome. Emission is best effort: consumers get a
// copy when everything works, and nothing downstream of a lost event
// affects campaign counters.
type Event struct {
	Type           string `json:"event"`
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id,omitempty"`
	ContactID      string `json:"contact_id,omitempty"`
	WamID          string `json:"wamid,omitempty"`
	Status         string `json:"status,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

const (
	EventMessageSent   = "message.sent"
	EventMessageFailed = "message.failed"
	EventMessageStatus = "message.status"
)

// Notifier fans events out to the organization. Emit never returns an
// error; failures are logged and dropped.
type Notifier interface {
	Emit(ev Event)
}

// AMQPNotifier publishes events to a fanout exchange.
type AMQPNotifier struct {
	channel  *amqp.Channel
	exchange string
}

var _ Notifier = (*AMQPNotifier)(nil)

func NewAMQPNotifier(conn *amqp.Connection, exchange string) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, err
	}
	return &AMQPNotifier{channel: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) Emit(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("notifier marshal failed")
		return
	}
	err = n.channel.Publish(n.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Str("wamid", ev.WamID).Msg("notifier publish failed")
	}
}

func (n *AMQPNotifier) Close() error {
	return n.channel.Close()
}

// Noop discards events; used in tests and when no broker is configured.
type Noop struct{}

func (Noop) Emit(Event) {}
