package email

import (
	"context"

	"github.com/taucao-ruby/soleil-hostel-sub004/internal/kafka"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
)

// Sender delivers guest notifications for booking events consumed off the
// notifications topic. Delivery is best-effort; the event stream is the
// source of truth.
type Sender struct {
	log *logger.Logger
}

func NewSender(log *logger.Logger) *Sender {
	return &Sender{log: log}
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	s.log.Info("sending booking notification email",
		"to", event.GuestEmail,
		"type", event.Type,
		"booking_id", event.BookingID,
		"room_id", event.RoomID)
	return nil
}
