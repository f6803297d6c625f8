package snapshot

import (
	"context"
	"fmt"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/event"
)

type SaverConfig struct {
	Store    *Store
	EventBus *event.Bus
}

// Saver persists every committed state change. It runs off the event bus,
// so mutations never block on redis; a failed write is logged by the bus
// and the next change will overwrite it anyway.
type Saver struct {
	store *Store
}

func NewSaver(c SaverConfig) *Saver {
	s := &Saver{
		store: c.Store,
	}

	c.EventBus.Subscribe(domain.EventNameStateChanged, func(ctx context.Context, e event.Event) error {
		return s.Persist(ctx, e.(domain.EventStateChanged).Snapshot)
	})

	return s
}

func (s *Saver) Persist(ctx context.Context, snap domain.Snapshot) error {
	if err := s.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	return nil
}
