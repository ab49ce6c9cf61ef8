package domain

import "time"

// RefundPolicy is the one authoritative refund calculation, shared by the
// cancellation workflow and the reconciliation sweeper. Thresholds count
// hours between the moment of cancellation and check-in.
type RefundPolicy struct {
	FullRefundHours    int
	PartialRefundHours int
	PartialPercent     int
	FeePercent         int
}

// RefundPercent returns the percentage of the paid amount to return when a
// booking is cancelled at time at.
func (p RefundPolicy) RefundPercent(checkIn, at time.Time) int {
	hoursBefore := checkIn.Sub(at).Hours()

	var pct int
	switch {
	case hoursBefore >= float64(p.FullRefundHours):
		pct = 100
	case hoursBefore >= float64(p.PartialRefundHours):
		pct = p.PartialPercent
	default:
		return 0
	}

	pct -= p.FeePercent
	if pct < 0 {
		pct = 0
	}
	return pct
}

// RefundAmountCents anchors the calculation at the booking's cancellation
// time when recorded, so a later sweeper retry refunds the same amount the
// original cancel computed.
func (p RefundPolicy) RefundAmountCents(b *Booking, now time.Time) int64 {
	at := now
	if b.CancelledAt != nil {
		at = *b.CancelledAt
	}
	return b.AmountCents * int64(p.RefundPercent(b.CheckIn, at)) / 100
}
