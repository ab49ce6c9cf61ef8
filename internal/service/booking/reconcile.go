package booking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/metrics"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
)

type SweeperConfig struct {
	// StaleAfter is how long a booking may sit in REFUND_PENDING before the
	// sweeper treats it as abandoned by a crashed process.
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.StaleAfter == 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	return c
}

// Sweeper repairs bookings stranded mid-cancellation: REFUND_PENDING rows
// whose gateway outcome was never committed, and REFUND_FAILED rows still
// under the retry budget.
type Sweeper struct {
	svc     *BookingService
	gateway payment.Gateway
	log     *logger.Logger
	collect *metrics.Collector
	cfg     SweeperConfig

	now func() time.Time
}

func NewSweeper(svc *BookingService, gateway payment.Gateway, log *logger.Logger, collect *metrics.Collector, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		svc:     svc,
		gateway: gateway,
		log:     log,
		collect: collect,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

type SweepStats struct {
	Finalized int
	Failed    int
	Retried   int
	Skipped   int
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if err := s.sweepStale(ctx, &stats); err != nil {
		return stats, err
	}
	if err := s.sweepFailed(ctx, &stats); err != nil {
		return stats, err
	}

	s.collect.SetGauge("sweep_finalized", float64(stats.Finalized), nil)
	s.collect.SetGauge("sweep_failed", float64(stats.Failed), nil)
	s.log.Info("reconciliation sweep complete",
		"finalized", stats.Finalized, "failed", stats.Failed, "retried", stats.Retried, "skipped", stats.Skipped)
	return stats, nil
}

// sweepStale resolves REFUND_PENDING bookings by asking the gateway what
// actually happened. Chunked; stops when a full page makes no progress so
// refunds still pending at the gateway cannot spin the loop.
func (s *Sweeper) sweepStale(ctx context.Context, stats *SweepStats) error {
	cutoff := s.now().Add(-s.cfg.StaleAfter)

	for {
		batch, err := s.svc.bookings.ListStaleRefundPending(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		progress := 0
		for i := range batch {
			if s.resolvePending(ctx, &batch[i], stats) {
				progress++
			}
		}
		if len(batch) < s.cfg.BatchSize || progress == 0 {
			return nil
		}
	}
}

// resolvePending returns true when the booking left REFUND_PENDING.
func (s *Sweeper) resolvePending(ctx context.Context, b *domain.Booking, stats *SweepStats) bool {
	if b.PaymentRef == nil {
		// No payment to refund: should have been cancelled directly.
		zero := int64(0)
		if _, err := s.svc.finalizeCancelled(ctx, b.ID, b.Status, repository.TransitionFields{RefundAmountCents: &zero}); err != nil {
			s.log.Error("failed to finalize paymentless booking", "booking_id", b.ID, "error", err)
			return false
		}
		stats.Finalized++
		return true
	}

	ref, found, err := s.lookupRefund(ctx, b)
	if err != nil {
		s.log.Error("gateway lookup failed", "booking_id", b.ID, "refund_id", deref(b.RefundID), "error", err)
		return false
	}
	if !found {
		// The crash happened before the gateway call: run the refund now.
		stats.Retried++
		if _, err := s.svc.processRefund(ctx, b, parseRefundAttempts(b.RefundError)+1); err != nil {
			s.log.Warn("refund re-attempt failed", "booking_id", b.ID, "error", err)
			stats.Failed++
		} else {
			stats.Finalized++
		}
		return true
	}

	switch ref.Status {
	case payment.RefundStatusSucceeded:
		_, err := s.svc.finalizeCancelled(ctx, b.ID, domain.BookingStatusRefundPending, repository.TransitionFields{
			RefundID:          &ref.ID,
			RefundStatus:      &ref.Status,
			RefundAmountCents: &ref.AmountCents,
			ClearRefundError:  true,
		})
		if err != nil {
			s.log.Error("failed to finalize recovered refund", "booking_id", b.ID, "refund_id", ref.ID, "error", err)
			return false
		}
		stats.Finalized++
		return true
	case payment.RefundStatusFailed, payment.RefundStatusCanceled:
		if err := s.markFailed(ctx, b, ref.FailureReason); err != nil {
			s.log.Error("failed to mark refund failure", "booking_id", b.ID, "error", err)
			return false
		}
		stats.Failed++
		return true
	default:
		// Still pending at the gateway; leave it for the next sweep.
		stats.Skipped++
		return false
	}
}

// lookupRefund finds the refund by persisted id, or by searching the
// payment's refund list when the crash lost the id.
func (s *Sweeper) lookupRefund(ctx context.Context, b *domain.Booking) (*payment.Refund, bool, error) {
	if b.RefundID != nil {
		ref, err := s.gateway.RetrieveRefund(ctx, *b.RefundID)
		if err != nil {
			return nil, false, err
		}
		return ref, true, nil
	}

	refunds, err := s.gateway.ListRefunds(ctx, *b.PaymentRef)
	if err != nil {
		return nil, false, err
	}
	expected := s.svc.policy.RefundAmountCents(b, s.now())
	for _, ref := range refunds {
		if ref.AmountCents == expected {
			return ref, true, nil
		}
	}
	return nil, false, nil
}

// sweepFailed re-attempts refunds for REFUND_FAILED bookings under the
// attempt budget, using the same policy computation as the cancel flow.
func (s *Sweeper) sweepFailed(ctx context.Context, stats *SweepStats) error {
	batch, err := s.svc.bookings.ListRefundFailed(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range batch {
		b := &batch[i]
		attempts := parseRefundAttempts(b.RefundError)
		if attempts >= s.cfg.MaxAttempts {
			s.log.Warn("refund attempts exhausted, operator action required",
				"booking_id", b.ID, "attempts", attempts, "last_error", deref(b.RefundError))
			stats.Skipped++
			continue
		}

		pending, err := s.reopenRefund(ctx, b)
		if err != nil {
			s.log.Error("failed to reopen failed refund", "booking_id", b.ID, "error", err)
			continue
		}

		stats.Retried++
		if _, err := s.svc.processRefund(ctx, pending, attempts+1); err != nil {
			s.log.Warn("refund retry failed", "booking_id", b.ID, "attempt", attempts+1, "error", err)
			stats.Failed++
			continue
		}
		stats.Finalized++
	}
	return nil
}

func (s *Sweeper) reopenRefund(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	txOpts := s.svc.txOpts
	txOpts.Name = "reopen_refund"

	var pending *domain.Booking
	err := s.svc.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		pending, err = s.svc.bookings.Transition(ctx, tx, b.ID, domain.BookingStatusRefundFailed, domain.BookingStatusRefundPending, repository.TransitionFields{})
		return err
	})
	return pending, err
}

func (s *Sweeper) markFailed(ctx context.Context, b *domain.Booking, reason string) error {
	txOpts := s.svc.txOpts
	txOpts.Name = "mark_refund_failed"

	msg := formatRefundError(parseRefundAttempts(b.RefundError)+1, &payment.GatewayError{Op: "refund", Err: errReason(reason)})
	return s.svc.runner.Run(ctx, txOpts, func(ctx context.Context, tx pgx.Tx) error {
		_, err := s.svc.bookings.Transition(ctx, tx, b.ID, domain.BookingStatusRefundPending, domain.BookingStatusRefundFailed, repository.TransitionFields{
			RefundError: &msg,
		})
		return err
	})
}

type errReason string

func (e errReason) Error() string { return string(e) }
