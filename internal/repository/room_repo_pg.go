package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/domain"
)

// RoomUpdate carries the mutable room attributes for a versioned write.
type RoomUpdate struct {
	Name        string
	Description string
	Capacity    int
	PriceCents  int64
}

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id int64) (*domain.Room, error)
	List(ctx context.Context) ([]domain.Room, error)
	Exists(ctx context.Context, tx pgx.Tx, id int64) (bool, error)
	// UpdateVersioned applies the compare-and-swap write: the comparison and
	// the update are one atomic statement. Returns rows affected (0 = stale).
	UpdateVersioned(ctx context.Context, id int64, data RoomUpdate, expectedVersion int64) (int64, error)
	DeleteVersioned(ctx context.Context, id, expectedVersion int64) (int64, error)
	CurrentVersion(ctx context.Context, id int64) (int64, error)
}

type PGRoomRepository struct {
	db *pgxpool.Pool
}

func NewRoomRepository(db *pgxpool.Pool) RoomRepository {
	return &PGRoomRepository{db: db}
}

const roomColumns = `id, name, description, capacity, price_cents, version, created_at, updated_at`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var rm domain.Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.Capacity, &rm.PriceCents, &rm.Version, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *PGRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return r.db.QueryRow(ctx, `INSERT INTO rooms (name, description, capacity, price_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version, created_at, updated_at`,
		room.Name, room.Description, room.Capacity, room.PriceCents).
		Scan(&room.ID, &room.Version, &room.CreatedAt, &room.UpdatedAt)
}

func (r *PGRoomRepository) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, id)
	return scanRoom(row)
}

func (r *PGRoomRepository) List(ctx context.Context) ([]domain.Room, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]domain.Room, 0)
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *rm)
	}
	return rooms, rows.Err()
}

func (r *PGRoomRepository) Exists(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *PGRoomRepository) UpdateVersioned(ctx context.Context, id int64, data RoomUpdate, expectedVersion int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE rooms SET name=$1, description=$2, capacity=$3, price_cents=$4, version=version+1, updated_at=now()
		WHERE id=$5 AND version=$6`,
		data.Name, data.Description, data.Capacity, data.PriceCents, id, expectedVersion)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *PGRoomRepository) DeleteVersioned(ctx context.Context, id, expectedVersion int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id=$1 AND version=$2`, id, expectedVersion)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *PGRoomRepository) CurrentVersion(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `SELECT version FROM rooms WHERE id=$1`, id).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

var _ RoomRepository = (*PGRoomRepository)(nil)
