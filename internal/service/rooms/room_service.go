package rooms

import (
	"context"
	"errors"

	"github.com/taucao-ruby/soleil-hostel-sub004/internal/apperr"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
)

type RoomUseCase interface {
	CreateRoom(ctx context.Context, input UpdateRoomInput) (*domain.Room, error)
	GetRoom(ctx context.Context, id int64) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	UpdateRoom(ctx context.Context, id int64, input UpdateRoomInput, expectedVersion int64) (*domain.Room, error)
	DeleteRoom(ctx context.Context, id, expectedVersion int64) error
}

type UpdateRoomInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
	PriceCents  int64  `json:"price_cents"`
}

// RoomService edits rooms with optimistic concurrency control: the version
// comparison and the write are a single atomic statement, so there is no
// read-compare-write race window and no lock held in advance.
type RoomService struct {
	rooms repository.RoomRepository
	log   *logger.Logger
}

func NewRoomService(rooms repository.RoomRepository, log *logger.Logger) *RoomService {
	return &RoomService{rooms: rooms, log: log}
}

func (s *RoomService) CreateRoom(ctx context.Context, input UpdateRoomInput) (*domain.Room, error) {
	if input.Name == "" {
		return nil, apperr.InvalidInput("room name is required")
	}
	if input.Capacity <= 0 {
		return nil, apperr.InvalidInput("capacity must be positive")
	}

	room := &domain.Room{
		Name:        input.Name,
		Description: input.Description,
		Capacity:    input.Capacity,
		PriceCents:  input.PriceCents,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id int64) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("room", id)
		}
		return nil, err
	}
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]domain.Room, error) {
	return s.rooms.List(ctx)
}

// UpdateRoom applies a compare-and-swap write. On a stale version it reloads
// the current one so the conflict error carries expected vs actual for the
// client's refresh-and-retry flow.
func (s *RoomService) UpdateRoom(ctx context.Context, id int64, input UpdateRoomInput, expectedVersion int64) (*domain.Room, error) {
	if input.Name == "" {
		return nil, apperr.InvalidInput("room name is required")
	}
	if input.Capacity <= 0 {
		return nil, apperr.InvalidInput("capacity must be positive")
	}

	affected, err := s.rooms.UpdateVersioned(ctx, id, repository.RoomUpdate{
		Name:        input.Name,
		Description: input.Description,
		Capacity:    input.Capacity,
		PriceCents:  input.PriceCents,
	}, expectedVersion)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.versionConflict(ctx, id, expectedVersion)
	}

	// Reread so the caller gets the new version to use on its next write.
	return s.GetRoom(ctx, id)
}

func (s *RoomService) DeleteRoom(ctx context.Context, id, expectedVersion int64) error {
	affected, err := s.rooms.DeleteVersioned(ctx, id, expectedVersion)
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.versionConflict(ctx, id, expectedVersion)
	}
	return nil
}

func (s *RoomService) versionConflict(ctx context.Context, id, expected int64) error {
	actual, err := s.rooms.CurrentVersion(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("room", id)
		}
		return err
	}
	s.log.Info("stale room write rejected", "room_id", id, "expected_version", expected, "actual_version", actual)
	return apperr.VersionConflict(expected, actual)
}

var _ RoomUseCase = (*RoomService)(nil)
