package booking

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/payment"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/txretry"
)

// ---- mocks ----

type MockBookingRepository struct {
	mock.Mock
}

func (m *MockBookingRepository) Insert(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	args := m.Called(ctx, tx, b)
	return args.Error(0)
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) LockOverlapping(ctx context.Context, tx pgx.Tx, roomID int64, checkIn, checkOut time.Time, excludeID int64) ([]domain.Booking, error) {
	args := m.Called(ctx, tx, roomID, checkIn, checkOut, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) UpdateDates(ctx context.Context, tx pgx.Tx, id int64, checkIn, checkOut time.Time) (*domain.Booking, error) {
	args := m.Called(ctx, tx, id, checkIn, checkOut)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) Transition(ctx context.Context, tx pgx.Tx, id int64, from, to domain.BookingStatus, fields repository.TransitionFields) (*domain.Booking, error) {
	args := m.Called(ctx, tx, id, from, to, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) SoftDelete(ctx context.Context, tx pgx.Tx, id int64, by string) error {
	args := m.Called(ctx, tx, id, by)
	return args.Error(0)
}

func (m *MockBookingRepository) ListStaleRefundPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Booking, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) ListRefundFailed(ctx context.Context, limit int) ([]domain.Booking, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingRepository) CountDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBookingRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *MockRoomRepository) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Room), args.Error(1)
}

func (m *MockRoomRepository) Exists(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	args := m.Called(ctx, tx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoomRepository) UpdateVersioned(ctx context.Context, id int64, data repository.RoomUpdate, expectedVersion int64) (int64, error) {
	args := m.Called(ctx, id, data, expectedVersion)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRoomRepository) DeleteVersioned(ctx context.Context, id, expectedVersion int64) (int64, error) {
	args := m.Called(ctx, id, expectedVersion)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRoomRepository) CurrentVersion(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) (*payment.Refund, error) {
	args := m.Called(ctx, paymentRef, amountCents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}

func (m *MockGateway) RetrieveRefund(ctx context.Context, refundID string) (*payment.Refund, error) {
	args := m.Called(ctx, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}

func (m *MockGateway) ListRefunds(ctx context.Context, paymentRef string) ([]*payment.Refund, error) {
	args := m.Called(ctx, paymentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Refund), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

// stubRunner executes the unit of work once with no real transaction.
type stubRunner struct {
	ops []string
}

func (r *stubRunner) Run(ctx context.Context, opts txretry.Options, fn func(ctx context.Context, tx pgx.Tx) error) error {
	r.ops = append(r.ops, opts.Name)
	return fn(ctx, nil)
}

// ---- fixtures ----

var testNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	bookings *MockBookingRepository
	rooms    *MockRoomRepository
	gateway  *MockGateway
	producer *MockProducer
	runner   *stubRunner
	svc      *BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bookings: &MockBookingRepository{},
		rooms:    &MockRoomRepository{},
		gateway:  &MockGateway{},
		producer: &MockProducer{},
		runner:   &stubRunner{},
	}
	policy := domain.RefundPolicy{FullRefundHours: 48, PartialRefundHours: 24, PartialPercent: 50}
	f.svc = NewBookingService(f.bookings, f.rooms, f.runner, f.gateway, f.producer, policy, logger.Discard(),
		WithNotificationsTopic("notifications"))
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) assertAll(t *testing.T) {
	t.Helper()
	f.bookings.AssertExpectations(t)
	f.rooms.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

// ---- create ----

func TestCreateBooking_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := CreateBookingInput{
		RoomID:      7,
		GuestName:   "Ada",
		GuestEmail:  "ada@example.com",
		CheckIn:     day("2026-01-10"),
		CheckOut:    day("2026-01-15"),
		AmountCents: 50000,
	}

	f.rooms.On("Exists", ctx, nil, int64(7)).Return(true, nil).Once()
	f.bookings.On("LockOverlapping", ctx, nil, int64(7), input.CheckIn, input.CheckOut, int64(0)).
		Return([]domain.Booking{}, nil).Once()
	f.bookings.On("Insert", ctx, nil, mock.AnythingOfType("*domain.Booking")).
		Run(func(args mock.Arguments) {
			b := args.Get(2).(*domain.Booking)
			b.ID = 101
			b.Status = domain.BookingStatusPending
		}).Return(nil).Once()
	f.producer.On("Publish", ctx, "notifications", "101", mock.Anything).Return(nil).Once()

	b, err := f.svc.CreateBooking(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, int64(101), b.ID)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, []string{"create_booking"}, f.runner.ops)
	f.assertAll(t)
}

func TestCreateBooking_RoomUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := CreateBookingInput{
		RoomID:     7,
		GuestEmail: "ada@example.com",
		CheckIn:    day("2026-01-12"),
		CheckOut:   day("2026-01-18"),
	}

	f.rooms.On("Exists", ctx, nil, int64(7)).Return(true, nil).Once()
	f.bookings.On("LockOverlapping", ctx, nil, int64(7), input.CheckIn, input.CheckOut, int64(0)).
		Return([]domain.Booking{{ID: 55, CheckIn: day("2026-01-10"), CheckOut: day("2026-01-15")}}, nil).Once()

	_, err := f.svc.CreateBooking(ctx, input)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeRoomUnavailable, apperr.CodeOf(err))
	f.bookings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		input CreateBookingInput
	}{
		{
			name:  "check-in equals check-out",
			input: CreateBookingInput{RoomID: 7, GuestEmail: "a@b.c", CheckIn: day("2026-01-10"), CheckOut: day("2026-01-10")},
		},
		{
			name:  "check-in after check-out",
			input: CreateBookingInput{RoomID: 7, GuestEmail: "a@b.c", CheckIn: day("2026-01-15"), CheckOut: day("2026-01-10")},
		},
		{
			name:  "check-in in the past",
			input: CreateBookingInput{RoomID: 7, GuestEmail: "a@b.c", CheckIn: day("2025-12-20"), CheckOut: day("2025-12-25")},
		},
		{
			name:  "missing email",
			input: CreateBookingInput{RoomID: 7, CheckIn: day("2026-01-10"), CheckOut: day("2026-01-15")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tc.input)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
		})
	}
	assert.Empty(t, f.runner.ops)
}

func TestCreateBooking_RoomMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rooms.On("Exists", ctx, nil, int64(99)).Return(false, nil).Once()

	_, err := f.svc.CreateBooking(ctx, CreateBookingInput{
		RoomID:     99,
		GuestEmail: "a@b.c",
		CheckIn:    day("2026-01-10"),
		CheckOut:   day("2026-01-15"),
	})

	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	f.assertAll(t)
}

// ---- update dates ----

func TestUpdateBookingDates_ExcludesOwnRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusConfirmed,
		CheckIn: day("2026-01-10"), CheckOut: day("2026-01-15")}
	newIn, newOut := day("2026-01-11"), day("2026-01-16")

	f.bookings.On("GetByIDForUpdate", ctx, nil, int64(101)).Return(current, nil).Once()
	f.bookings.On("LockOverlapping", ctx, nil, int64(7), newIn, newOut, int64(101)).
		Return([]domain.Booking{}, nil).Once()
	updated := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusConfirmed, CheckIn: newIn, CheckOut: newOut}
	f.bookings.On("UpdateDates", ctx, nil, int64(101), newIn, newOut).Return(updated, nil).Once()

	b, err := f.svc.UpdateBookingDates(ctx, 101, newIn, newOut)

	require.NoError(t, err)
	assert.Equal(t, newIn, b.CheckIn)
	f.assertAll(t)
}

func TestUpdateBookingDates_ConflictFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusConfirmed,
		CheckIn: day("2026-01-10"), CheckOut: day("2026-01-15")}
	newIn, newOut := day("2026-01-11"), day("2026-01-16")

	f.bookings.On("GetByIDForUpdate", ctx, nil, int64(101)).Return(current, nil).Once()
	f.bookings.On("LockOverlapping", ctx, nil, int64(7), newIn, newOut, int64(101)).
		Return([]domain.Booking{{ID: 200}}, nil).Once()

	_, err := f.svc.UpdateBookingDates(ctx, 101, newIn, newOut)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeRoomUnavailable, apperr.CodeOf(err))
	f.assertAll(t)
}

func TestUpdateBookingDates_InactiveBookingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	current := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusCancelled,
		CheckIn: day("2026-01-10"), CheckOut: day("2026-01-15")}
	newIn, newOut := day("2026-01-11"), day("2026-01-16")

	f.bookings.On("GetByIDForUpdate", ctx, nil, int64(101)).Return(current, nil).Once()

	_, err := f.svc.UpdateBookingDates(ctx, 101, newIn, newOut)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "can no longer be modified")
	f.bookings.AssertNotCalled(t, "UpdateDates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

// ---- confirm ----

func TestConfirmBooking_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusPending, GuestEmail: "a@b.c"}
	confirmed := &domain.Booking{ID: 101, RoomID: 7, Status: domain.BookingStatusConfirmed, GuestEmail: "a@b.c"}

	f.bookings.On("GetByIDForUpdate", ctx, nil, int64(101)).Return(pending, nil).Once()
	f.bookings.On("Transition", ctx, nil, int64(101), domain.BookingStatusPending, domain.BookingStatusConfirmed, repository.TransitionFields{}).
		Return(confirmed, nil).Once()
	f.producer.On("Publish", ctx, "notifications", "101", mock.Anything).Return(nil).Once()

	b, err := f.svc.ConfirmBooking(ctx, 101)

	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	f.assertAll(t)
}

func TestConfirmBooking_NotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bookings.On("GetByIDForUpdate", ctx, nil, int64(101)).
		Return(&domain.Booking{ID: 101, Status: domain.BookingStatusCancelled}, nil).Once()

	_, err := f.svc.ConfirmBooking(ctx, 101)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	f.assertAll(t)
}
