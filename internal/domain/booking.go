package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending       BookingStatus = "PENDING"
	BookingStatusConfirmed     BookingStatus = "CONFIRMED"
	BookingStatusRefundPending BookingStatus = "REFUND_PENDING"
	BookingStatusCancelled     BookingStatus = "CANCELLED"
	BookingStatusRefundFailed  BookingStatus = "REFUND_FAILED"
)

// transitions is the single source of truth for the booking lifecycle.
// CANCELLED is terminal.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:       {BookingStatusConfirmed, BookingStatusRefundPending, BookingStatusCancelled},
	BookingStatusConfirmed:     {BookingStatusRefundPending, BookingStatusCancelled},
	BookingStatusRefundPending: {BookingStatusCancelled, BookingStatusRefundFailed},
	BookingStatusRefundFailed:  {BookingStatusRefundPending, BookingStatusCancelled},
	BookingStatusCancelled:     {},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cancellable reports whether a cancel request may start from this status.
// REFUND_PENDING is excluded: a cancellation is already in flight there.
func (s BookingStatus) Cancellable() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusRefundFailed:
		return true
	}
	return false
}

// Active statuses count toward room-night overlap.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Booking reserves one room for the half-open interval [CheckIn, CheckOut).
type Booking struct {
	ID         int64
	RoomID     int64
	UserID     *int64
	GuestName  string
	GuestEmail string
	CheckIn    time.Time
	CheckOut   time.Time
	Status     BookingStatus

	AmountCents int64
	PaymentRef  *string

	RefundID          *string
	RefundStatus      *string
	RefundAmountCents *int64
	RefundError       *string

	CancelledAt *time.Time
	CancelledBy *string
	DeletedAt   *time.Time
	DeletedBy   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Overlaps applies the half-open test: a stay ending on the day another
// begins does not overlap.
func (b *Booking) Overlaps(checkIn, checkOut time.Time) bool {
	return b.CheckIn.Before(checkOut) && b.CheckOut.After(checkIn)
}

func (b *Booking) Refunded() bool {
	return b.RefundID != nil
}
