package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrSpawnLimit is returned when a spawner has no room for another unit.
var ErrSpawnLimit = errors.New("spawn limit reached")

// Spawner runs concurrent units.
type Spawner interface {
	// Spawn starts fn in its own goroutine. It fails without starting fn if
	// the unit cannot be admitted.
	Spawn(name string, fn func(ctx context.Context) error) error

	// Wait blocks until every spawned unit has returned and reports the
	// first error.
	Wait() error
}

// SpawnerFactory builds the spawner for one network. limit is the number of
// units the network will spawn.
type SpawnerFactory func(ctx context.Context, limit int) Spawner

// GroupSpawner is the errgroup-backed Spawner.
type GroupSpawner struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroupSpawner creates a spawner admitting at most limit concurrent
// units. The first unit to fail cancels the context every unit runs with.
func NewGroupSpawner(ctx context.Context, limit int) Spawner {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &GroupSpawner{g: g, ctx: gctx}
}

// Spawn implements Spawner.
func (s *GroupSpawner) Spawn(name string, fn func(ctx context.Context) error) error {
	ok := s.g.TryGo(func() error {
		if err := fn(s.ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	if !ok {
		return fmt.Errorf("%w: cannot start %s", ErrSpawnLimit, name)
	}
	return nil
}

// Wait implements Spawner.
func (s *GroupSpawner) Wait() error {
	return s.g.Wait()
}
