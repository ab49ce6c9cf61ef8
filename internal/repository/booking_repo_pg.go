package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ErrStaleTransition is returned when the status guard on an UPDATE matches
// no row: another writer moved the booking first.
var ErrStaleTransition = errors.New("booking status changed concurrently")

// TransitionFields are the columns a status transition may set alongside the
// status itself. Nil pointers leave the stored value untouched.
type TransitionFields struct {
	RefundID          *string
	RefundStatus      *string
	RefundAmountCents *int64
	RefundError       *string
	ClearRefundError  bool
	CancelledAt       *time.Time
	CancelledBy       *string
}

type BookingRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, b *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error)
	// LockOverlapping takes row locks on every active booking for the room
	// whose half-open interval intersects [checkIn, checkOut), excluding
	// excludeID. Blocks until competing transactions release their locks.
	LockOverlapping(ctx context.Context, tx pgx.Tx, roomID int64, checkIn, checkOut time.Time, excludeID int64) ([]domain.Booking, error)
	UpdateDates(ctx context.Context, tx pgx.Tx, id int64, checkIn, checkOut time.Time) (*domain.Booking, error)
	// Transition updates status guarded by the expected current status and
	// applies fields atomically. Returns ErrStaleTransition when the guard
	// misses.
	Transition(ctx context.Context, tx pgx.Tx, id int64, from, to domain.BookingStatus, fields TransitionFields) (*domain.Booking, error)
	SoftDelete(ctx context.Context, tx pgx.Tx, id int64, by string) error
	ListStaleRefundPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Booking, error)
	ListRefundFailed(ctx context.Context, limit int) ([]domain.Booking, error)
	CountDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, room_id, user_id, guest_name, guest_email, check_in, check_out, status, amount_cents, payment_ref, refund_id, refund_status, refund_amount_cents, refund_error, cancelled_at, cancelled_by, deleted_at, deleted_by, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.RoomID, &b.UserID, &b.GuestName, &b.GuestEmail, &b.CheckIn, &b.CheckOut, &b.Status, &b.AmountCents, &b.PaymentRef, &b.RefundID, &b.RefundStatus, &b.RefundAmountCents, &b.RefundError, &b.CancelledAt, &b.CancelledBy, &b.DeletedAt, &b.DeletedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) Insert(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	b.Status = domain.BookingStatusPending
	return tx.QueryRow(ctx, `INSERT INTO bookings (room_id, user_id, guest_name, guest_email, check_in, check_out, status, amount_cents, payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		b.RoomID, b.UserID, b.GuestName, b.GuestEmail, b.CheckIn, b.CheckOut, b.Status, b.AmountCents, b.PaymentRef).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 AND deleted_at IS NULL`, id)
	return scanBooking(row)
}

func (r *PGBookingRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
	return scanBooking(row)
}

func (r *PGBookingRepository) LockOverlapping(ctx context.Context, tx pgx.Tx, roomID int64, checkIn, checkOut time.Time, excludeID int64) ([]domain.Booking, error) {
	rows, err := tx.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE room_id = $1
		  AND status IN ($2, $3)
		  AND deleted_at IS NULL
		  AND check_in < $5
		  AND check_out > $4
		  AND id <> $6
		FOR UPDATE`,
		roomID, domain.BookingStatusPending, domain.BookingStatusConfirmed, checkIn, checkOut, excludeID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) UpdateDates(ctx context.Context, tx pgx.Tx, id int64, checkIn, checkOut time.Time) (*domain.Booking, error) {
	row := tx.QueryRow(ctx, `UPDATE bookings SET check_in=$1, check_out=$2, updated_at=now()
		WHERE id=$3 AND deleted_at IS NULL
		RETURNING `+bookingColumns, checkIn, checkOut, id)
	return scanBooking(row)
}

func (r *PGBookingRepository) Transition(ctx context.Context, tx pgx.Tx, id int64, from, to domain.BookingStatus, fields TransitionFields) (*domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	row := tx.QueryRow(ctx, `UPDATE bookings SET
			status = $1,
			refund_id = COALESCE($2, refund_id),
			refund_status = COALESCE($3, refund_status),
			refund_amount_cents = COALESCE($4, refund_amount_cents),
			refund_error = CASE WHEN $5::boolean THEN NULL ELSE COALESCE($6, refund_error) END,
			cancelled_at = COALESCE($7, cancelled_at),
			cancelled_by = COALESCE($8, cancelled_by),
			updated_at = now()
		WHERE id = $9 AND status = $10 AND deleted_at IS NULL
		RETURNING `+bookingColumns,
		to, fields.RefundID, fields.RefundStatus, fields.RefundAmountCents,
		fields.ClearRefundError, fields.RefundError, fields.CancelledAt, fields.CancelledBy,
		id, from)

	b, err := scanBooking(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStaleTransition
	}
	return b, err
}

func (r *PGBookingRepository) SoftDelete(ctx context.Context, tx pgx.Tx, id int64, by string) error {
	cmd, err := tx.Exec(ctx, `UPDATE bookings SET deleted_at=now(), deleted_by=$1, updated_at=now() WHERE id=$2 AND deleted_at IS NULL`, by, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGBookingRepository) ListStaleRefundPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = $1 AND updated_at <= $2 AND deleted_at IS NULL
		ORDER BY updated_at
		LIMIT $3`,
		domain.BookingStatusRefundPending, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) ListRefundFailed(ctx context.Context, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = $1 AND deleted_at IS NULL
		ORDER BY updated_at
		LIMIT $2`,
		domain.BookingStatusRefundFailed, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PGBookingRepository) CountDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM bookings WHERE deleted_at IS NOT NULL AND deleted_at <= $1`, cutoff).Scan(&count)
	return count, err
}

// PurgeDeletedBefore physically removes soft-deleted rows past the retention
// window. Only the purge CLI calls this, after explicit confirmation.
func (r *PGBookingRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE deleted_at IS NOT NULL AND deleted_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
