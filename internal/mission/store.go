package mission

import (
	"context"
	"errors"

	"github.com/mbhatt1/hive-sub000/internal/types"
)

var (
	// ErrNotFound is returned when no mission has the requested id.
	ErrNotFound = errors.New("mission not found")

	// ErrMissionExists is returned by Create for a duplicate mission id.
	ErrMissionExists = errors.New("mission already exists")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid mission status transition")
)

// Store persists missions. Implementations must apply Put atomically per
// mission so concurrent observers never lose an update.
type Store interface {
	// Create inserts a new mission. It fails with ErrMissionExists when the id
	// is already taken.
	Create(ctx context.Context, m *Mission) error

	// Get returns a copy of the mission.
	Get(ctx context.Context, id types.ID) (*Mission, error)

	// Put moves the mission to status and merges delta into it.
	Put(ctx context.Context, id types.ID, status Status, delta Delta) error

	// List returns missions matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Mission, error)

	// Close releases the store's resources.
	Close() error
}

// Filter narrows List results.
type Filter struct {
	Status Status
	Limit  int
}

// NewFilter returns an empty filter with the default limit.
func NewFilter() Filter {
	return Filter{Limit: 100}
}

// WithStatus restricts results to one status.
func (f Filter) WithStatus(status Status) Filter {
	f.Status = status
	return f
}

func (f Filter) matches(m *Mission) bool {
	return f.Status == "" || m.Status == f.Status
}
