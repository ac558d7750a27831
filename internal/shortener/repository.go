package shortener

import (
	"context"
	"time"
)

// Repository is the system of record for links.
//
// Implementations must reject duplicate codes with ErrConflict and apply
// IncrementClicks as an atomic add so concurrent callers never lose updates.
type Repository interface {
	Create(ctx context.Context, code Code, destination string) (*Link, error)
	GetByCode(ctx context.Context, code Code) (*Link, error)
	// List returns every link, most recently created first.
	List(ctx context.Context) ([]*Link, error)
	Delete(ctx context.Context, code Code) error
	// IncrementClicks adds count to the click counter and moves the last
	// access time forward to lastAccessedAt if it is later.
	IncrementClicks(ctx context.Context, code Code, count int64, lastAccessedAt time.Time) error
}

// ChangeKind identifies a write that affects resolution.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"
)

// Change describes a committed create or delete.
type Change struct {
	Kind ChangeKind
	Code Code
	At   time.Time
}

// ChangeHandler is notified synchronously after a change commits.
type ChangeHandler func(ctx context.Context, change Change)
