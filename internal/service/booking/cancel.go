package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/authz"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
)

type CancelInput struct {
	BookingID int64
	Actor     string
	// Override allows cancelling after the stay has started.
	Override bool
	// Elevated marks an actor whose privilege implies Override.
	Elevated bool
	// IdempotencyKey, when set, routes the whole cancellation through the
	// idempotency guard: repeated submissions observe the first outcome.
	IdempotencyKey string
}

type CancelOutcome struct {
	BookingID         int64                `json:"booking_id"`
	Status            domain.BookingStatus `json:"status"`
	RefundID          *string              `json:"refund_id,omitempty"`
	RefundAmountCents *int64               `json:"refund_amount_cents,omitempty"`
}

// CancelBooking drives the two-phase cancellation. Phase 1 transitions the
// booking under a row lock; phase 2 calls the payment gateway with no local
// transaction open; phase 3 commits the gateway outcome. A crash between
// phases leaves the booking in REFUND_PENDING for the sweeper to repair.
func (s *BookingService) CancelBooking(ctx context.Context, input CancelInput) (*CancelOutcome, error) {
	if s.guard == nil || input.IdempotencyKey == "" {
		return s.cancel(ctx, input)
	}

	key := "cancel:" + input.IdempotencyKey
	data, _, err := s.guard.Execute(ctx, key, s.idemOpts, func(ctx context.Context) ([]byte, error) {
		outcome, err := s.cancel(ctx, input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(outcome)
	})
	if err != nil {
		return nil, err
	}

	var outcome CancelOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (s *BookingService) cancel(ctx context.Context, input CancelInput) (*CancelOutcome, error) {
	current, err := s.GetBooking(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}

	// Already terminal: report the existing outcome, touch nothing.
	if current.Status == domain.BookingStatusCancelled {
		return outcomeOf(current), nil
	}
	if err := s.checkCancellable(current, input); err != nil {
		return nil, err
	}

	locked, needsRefund, alreadyDone, err := s.cancelPhase1(ctx, input)
	if err != nil {
		return nil, err
	}
	// A racing caller finished the cancellation first; it already emitted
	// the notification, so this call must not.
	if alreadyDone {
		return outcomeOf(locked), nil
	}
	if !needsRefund {
		s.publish(ctx, "booking_cancelled", locked)
		return outcomeOf(locked), nil
	}

	return s.processRefund(ctx, locked, 1)
}

// cancelPhase1 re-validates under the row lock and moves the booking to
// REFUND_PENDING when an un-refunded payment exists, directly to CANCELLED
// otherwise. alreadyDone reports that another caller completed the
// cancellation before the lock was taken, so nothing changed in this call.
func (s *BookingService) cancelPhase1(ctx context.Context, input CancelInput) (b *domain.Booking, needsRefund, alreadyDone bool, err error) {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "cancel_booking"

	err = s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.bookings.GetByIDForUpdate(ctx, tx, input.BookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("booking", input.BookingID)
			}
			return err
		}

		// Another caller may have completed the cancellation while we
		// waited on the lock.
		if locked.Status == domain.BookingStatusCancelled {
			b, needsRefund, alreadyDone = locked, false, true
			return nil
		}
		if err := s.checkCancellable(locked, input); err != nil {
			return err
		}

		now := s.now()
		fields := repository.TransitionFields{CancelledAt: &now, CancelledBy: &input.Actor}

		target := domain.BookingStatusCancelled
		if locked.PaymentRef != nil && !locked.Refunded() {
			target = domain.BookingStatusRefundPending
		}

		updated, err := s.bookings.Transition(ctx, tx, locked.ID, locked.Status, target, fields)
		if err != nil {
			return err
		}
		b, needsRefund = updated, target == domain.BookingStatusRefundPending
		return nil
	})
	if err != nil {
		return nil, false, false, err
	}
	return b, needsRefund, alreadyDone, nil
}

// processRefund runs phases 2 and 3 for a booking already in REFUND_PENDING.
// attempt seeds the counter recorded on failure; the sweeper passes the
// parsed prior count plus one.
func (s *BookingService) processRefund(ctx context.Context, b *domain.Booking, attempt int) (*CancelOutcome, error) {
	amount := s.policy.RefundAmountCents(b, s.now())
	if amount == 0 {
		finalized, err := s.finalizeCancelled(ctx, b.ID, b.Status, repository.TransitionFields{
			RefundAmountCents: &amount,
			ClearRefundError:  true,
		})
		if err != nil {
			return nil, err
		}
		return outcomeOf(finalized), nil
	}

	// Phase 2: the gateway call deliberately holds no database transaction
	// or lock. A crash after the call succeeds but before phase 3 commits is
	// repaired by the reconciliation sweeper.
	ref, gwErr := s.gateway.Refund(ctx, *b.PaymentRef, amount)
	if gwErr != nil {
		// Only gateway failures park the booking for retry; anything else
		// (context cancellation, programming errors) propagates as-is and
		// leaves the booking in REFUND_PENDING for the sweeper.
		if payment.IsGatewayError(gwErr) {
			return nil, s.recordRefundFailure(ctx, b, attempt, gwErr)
		}
		return nil, gwErr
	}

	finalized, err := s.finalizeCancelled(ctx, b.ID, domain.BookingStatusRefundPending, repository.TransitionFields{
		RefundID:          &ref.ID,
		RefundStatus:      &ref.Status,
		RefundAmountCents: &amount,
		ClearRefundError:  true,
	})
	if err != nil {
		return nil, err
	}
	return outcomeOf(finalized), nil
}

// finalizeCancelled is phase 3 on the success path: commit the outcome and
// emit the cancellation notification.
func (s *BookingService) finalizeCancelled(ctx context.Context, id int64, from domain.BookingStatus, fields repository.TransitionFields) (*domain.Booking, error) {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "finalize_cancellation"

	var finalized *domain.Booking
	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		finalized, err = s.bookings.Transition(ctx, tx, id, from, domain.BookingStatusCancelled, fields)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "booking_cancelled", finalized)
	return finalized, nil
}

// recordRefundFailure parks the booking in REFUND_FAILED with the attempt
// count embedded in the stored error, then propagates a typed failure. The
// fact that money may have moved is captured before any error escapes.
func (s *BookingService) recordRefundFailure(ctx context.Context, b *domain.Booking, attempt int, gwErr error) error {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "record_refund_failure"

	msg := formatRefundError(attempt, gwErr)
	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		_, err := s.bookings.Transition(ctx, tx, b.ID, domain.BookingStatusRefundPending, domain.BookingStatusRefundFailed, repository.TransitionFields{
			RefundError: &msg,
		})
		return err
	})
	if err != nil {
		s.log.Error("failed to record refund failure", "booking_id", b.ID, "error", err, "gateway_error", gwErr)
		return err
	}

	s.log.Error("refund failed", "booking_id", b.ID, "payment_ref", deref(b.PaymentRef), "attempt", attempt, "error", gwErr)
	return apperr.RefundFailed(b.ID, gwErr)
}

// ForceCancelBooking is the administrative override: no refund processing,
// the reason lands in the error field for the audit trail.
func (s *BookingService) ForceCancelBooking(ctx context.Context, id int64, actor, reason string) (*domain.Booking, error) {
	txOpts := s.txOpts
	txOpts.IsoLevel = pgx.ReadCommitted
	txOpts.Name = "force_cancel_booking"

	var cancelled *domain.Booking
	var alreadyDone bool
	err := s.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.bookings.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("booking", id)
			}
			return err
		}
		if locked.Status == domain.BookingStatusCancelled {
			cancelled, alreadyDone = locked, true
			return nil
		}

		now := s.now()
		msg := truncate("force cancelled: "+reason, maxRefundErrorLen)
		cancelled, err = s.bookings.Transition(ctx, tx, id, locked.Status, domain.BookingStatusCancelled, repository.TransitionFields{
			CancelledAt: &now,
			CancelledBy: &actor,
			RefundError: &msg,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if !alreadyDone {
		s.publish(ctx, "booking_cancelled", cancelled)
	}
	return cancelled, nil
}

const (
	actionCancel         authz.Action = "booking.cancel"
	actionCancelOverride authz.Action = "booking.cancel.override"
)

// cancelAuthorization is the rule chain guarding guest cancellation. Elevated
// actors bypass every later rule; the stay-started rule denies unless the
// caller asked for an override.
func cancelAuthorization() *authz.Chain {
	return authz.NewChain(
		authz.Rule{
			Name: "elevated_bypass",
			Check: func(r authz.Request) authz.Decision {
				if r.Actor.Elevated {
					return authz.Allow
				}
				return authz.Abstain
			},
		},
		authz.Rule{
			Name: "stay_started",
			Check: func(r authz.Request) authz.Decision {
				b, ok := r.Resource.(*domain.Booking)
				if !ok {
					return authz.Deny
				}
				if !b.CheckIn.After(r.Now) && r.Action != actionCancelOverride {
					return authz.Deny
				}
				return authz.Abstain
			},
			Denied: apperr.InvalidInput("stay has already started; cancellation requires an override"),
		},
	)
}

func (s *BookingService) checkCancellable(b *domain.Booking, input CancelInput) error {
	if !b.Status.Cancellable() {
		return apperr.NotCancellable(string(b.Status))
	}

	action := actionCancel
	if input.Override {
		action = actionCancelOverride
	}
	return s.cancelAuth.Authorize(authz.Request{
		Actor:    authz.Actor{ID: input.Actor, Elevated: input.Elevated},
		Action:   action,
		Resource: b,
		Now:      s.now(),
	})
}

const maxRefundErrorLen = 500

func formatRefundError(attempt int, err error) string {
	return truncate(fmt.Sprintf("attempt %d: %v", attempt, err), maxRefundErrorLen)
}

// parseRefundAttempts recovers the attempt counter the sweeper uses to bound
// retries. Unparseable or absent text counts as zero attempts.
func parseRefundAttempts(refundError *string) int {
	if refundError == nil {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(*refundError, "attempt %d:", &n); err != nil {
		return 0
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func outcomeOf(b *domain.Booking) *CancelOutcome {
	return &CancelOutcome{
		BookingID:         b.ID,
		Status:            b.Status,
		RefundID:          b.RefundID,
		RefundAmountCents: b.RefundAmountCents,
	}
}

func bookingKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
