package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-bolao/internal/models"
)

const (
	TopicTicketCreated   = "bolao.ticket.created"
	TopicTicketPaid      = "bolao.ticket.paid"
	TopicTicketCancelled = "bolao.ticket.cancelled"
	TopicTicketExpired   = "bolao.ticket.expired"
)

// Topics lists every topic the service publishes, for startup bootstrap.
func Topics() []string {
	return []string{
		TopicTicketCreated,
		TopicTicketPaid,
		TopicTicketCancelled,
		TopicTicketExpired,
	}
}

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishTicketEvent streams a lifecycle transition keyed by ticket id.
func (p *Producer) PublishTicketEvent(topic, eventType string, ticket models.Ticket, source string) error {
	event := models.TicketEvent{
		Type:      eventType,
		TicketID:  ticket.TicketID,
		TxID:      ticket.TxID,
		Status:    ticket.Status,
		Amount:    ticket.Amount,
		Source:    source,
		Timestamp: time.Now(),
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.Publish(topic, ticket.TicketID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
