package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/authz"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/idempotency"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/kafka"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/txretry"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	UpdateBookingDates(ctx context.Context, id int64, checkIn, checkOut time.Time) (*domain.Booking, error)
	ConfirmBooking(ctx context.Context, id int64) (*domain.Booking, error)
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	CancelBooking(ctx context.Context, input CancelInput) (*CancelOutcome, error)
	ForceCancelBooking(ctx context.Context, id int64, actor, reason string) (*domain.Booking, error)
	DeleteBooking(ctx context.Context, id int64, actor string) error
}

// TxRunner is satisfied by *txretry.Runner.
type TxRunner interface {
	Run(ctx context.Context, opts txretry.Options, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Guard is satisfied by *idempotency.Guard.
type Guard interface {
	Execute(ctx context.Context, key string, opts idempotency.Options, op func(ctx context.Context) ([]byte, error)) ([]byte, bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type BookingService struct {
	bookings   repository.BookingRepository
	rooms      repository.RoomRepository
	runner     TxRunner
	guard      Guard
	gateway    payment.Gateway
	producer   Producer
	policy     domain.RefundPolicy
	cancelAuth *authz.Chain
	log        *logger.Logger

	notificationsTopic string
	txOpts             txretry.Options
	idemOpts           idempotency.Options

	now func() time.Time
}

type CreateBookingInput struct {
	RoomID      int64      `json:"room_id"`
	UserID      *int64     `json:"user_id"`
	GuestName   string     `json:"guest_name"`
	GuestEmail  string     `json:"guest_email"`
	CheckIn     time.Time  `json:"check_in"`
	CheckOut    time.Time  `json:"check_out"`
	AmountCents int64      `json:"amount_cents"`
	PaymentRef  *string    `json:"payment_ref"`
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithIdempotencyGuard(guard Guard, opts idempotency.Options) BookingServiceOption {
	return func(s *BookingService) {
		s.guard = guard
		s.idemOpts = opts
	}
}

func WithTxOptions(opts txretry.Options) BookingServiceOption {
	return func(s *BookingService) {
		s.txOpts = opts
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	rooms repository.RoomRepository,
	runner TxRunner,
	gateway payment.Gateway,
	producer Producer,
	policy domain.RefundPolicy,
	log *logger.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:   bookings,
		rooms:      rooms,
		runner:     runner,
		gateway:    gateway,
		producer:   producer,
		policy:     policy,
		cancelAuth: cancelAuthorization(),
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreateBooking inserts a pending booking after taking row locks on every
// active booking that intersects the requested interval. Two concurrent
// creates for overlapping dates serialize on those locks, so at most one can
// pass the emptiness check. Lock contention surfaces as deadlock or lock
// timeout errors, which the retry engine absorbs.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if err := s.validateDates(input.CheckIn, input.CheckOut); err != nil {
		return nil, err
	}
	if input.GuestEmail == "" {
		return nil, apperr.InvalidInput("guest email is required")
	}

	booking := &domain.Booking{
		RoomID:      input.RoomID,
		UserID:      input.UserID,
		GuestName:   input.GuestName,
		GuestEmail:  input.GuestEmail,
		CheckIn:     input.CheckIn,
		CheckOut:    input.CheckOut,
		AmountCents: input.AmountCents,
		PaymentRef:  input.PaymentRef,
	}

	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "create_booking"

	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		exists, err := s.rooms.Exists(ctx, tx, input.RoomID)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("room", input.RoomID)
		}

		conflicts, err := s.bookings.LockOverlapping(ctx, tx, input.RoomID, input.CheckIn, input.CheckOut, 0)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return apperr.RoomUnavailable(input.RoomID, input.CheckIn, input.CheckOut)
		}

		return s.bookings.Insert(ctx, tx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_created", booking)
	return booking, nil
}

// UpdateBookingDates moves a booking to a new interval under the same
// overlap locking, excluding the booking's own row from the scan.
func (s *BookingService) UpdateBookingDates(ctx context.Context, id int64, checkIn, checkOut time.Time) (*domain.Booking, error) {
	if err := s.validateDates(checkIn, checkOut); err != nil {
		return nil, err
	}

	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "update_booking_dates"

	var updated *domain.Booking
	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.bookings.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("booking", id)
			}
			return err
		}
		if !current.Status.Active() {
			return apperr.InvalidInput(fmt.Sprintf("booking in status %s can no longer be modified", current.Status))
		}

		conflicts, err := s.bookings.LockOverlapping(ctx, tx, current.RoomID, checkIn, checkOut, id)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return apperr.RoomUnavailable(current.RoomID, checkIn, checkOut)
		}

		updated, err = s.bookings.UpdateDates(ctx, tx, id, checkIn, checkOut)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BookingService) ConfirmBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "confirm_booking"

	var confirmed *domain.Booking
	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.bookings.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("booking", id)
			}
			return err
		}
		if current.Status != domain.BookingStatusPending {
			return apperr.InvalidInput("booking is not pending")
		}

		confirmed, err = s.bookings.Transition(ctx, tx, id, domain.BookingStatusPending, domain.BookingStatusConfirmed, repository.TransitionFields{})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_confirmed", confirmed)
	return confirmed, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("booking", id)
		}
		return nil, err
	}
	return b, nil
}

// DeleteBooking soft-deletes for audit retention; physical removal happens
// only through the purge CLI.
func (s *BookingService) DeleteBooking(ctx context.Context, id int64, actor string) error {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "delete_booking"

	return s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.bookings.SoftDelete(ctx, tx, id, actor); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("booking", id)
			}
			return err
		}
		return nil
	})
}

func (s *BookingService) validateDates(checkIn, checkOut time.Time) error {
	if !checkIn.Before(checkOut) {
		return apperr.InvalidInput("check-in must be before check-out")
	}
	today := s.now().Truncate(24 * time.Hour)
	if checkIn.Before(today) {
		return apperr.InvalidInput("check-in must not be in the past")
	}
	return nil
}

func (s *BookingService) publish(ctx context.Context, eventType string, b *domain.Booking) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:              eventType,
		BookingID:         b.ID,
		RoomID:            b.RoomID,
		GuestEmail:        b.GuestEmail,
		Status:            string(b.Status),
		CheckIn:           b.CheckIn,
		CheckOut:          b.CheckOut,
		RefundID:          b.RefundID,
		RefundAmountCents: b.RefundAmountCents,
		CancelledAt:       b.CancelledAt,
	}
	if err := s.producer.Publish(ctx, s.notificationsTopic, bookingKey(b.ID), event); err != nil {
		s.log.Warn("failed to publish booking event", "type", eventType, "booking_id", b.ID, "error", err)
	}
}

var _ BookingUseCase = (*BookingService)(nil)
