package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// BookingEvent is published to the notifications topic when a booking
// reaches a lifecycle milestone. The dispatcher owns delivery guarantees.
type BookingEvent struct {
	Type              string     `json:"type"`
	BookingID         int64      `json:"booking_id"`
	RoomID            int64      `json:"room_id"`
	GuestEmail        string     `json:"guest_email"`
	Status            string     `json:"status"`
	CheckIn           time.Time  `json:"check_in"`
	CheckOut          time.Time  `json:"check_out"`
	RefundID          *string    `json:"refund_id,omitempty"`
	RefundAmountCents *int64     `json:"refund_amount_cents,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
