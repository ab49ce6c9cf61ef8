package domain

import "time"

// Room is a bookable unit. Version increments on every successful write and
// guards concurrent edits: a write only applies when the caller's version
// matches the stored one.
type Room struct {
	ID          int64
	Name        string
	Description string
	Capacity    int
	PriceCents  int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
