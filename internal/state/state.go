// Package state owns the shared application state: the roster, the history
// log, the global game counter, the active session and the current display
// name. All mutation funnels through a single entry point guarded by a
// mutex, making the single-writer assumption of the game explicit instead of
// relying on callers to not race each other.
package state

import (
	"context"
	"sync"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/event"
)

// State is the mutable aggregate handed to Update callbacks.
type State struct {
	Players     []domain.Player
	History     []domain.HistoryEntry
	GameCount   int
	ActiveGame  *domain.Session
	DisplayName string
}

type Config struct {
	EventBus *event.Bus
}

// Store holds the authoritative State for the process.
type Store struct {
	eb *event.Bus

	mu sync.Mutex
	st State
}

func NewStore(c Config) *Store {
	return &Store{
		eb: c.EventBus,
	}
}

// Seed replaces the whole state, used once at startup with the loaded
// snapshot. No state-changed event is published: nothing changed, the
// process just learned what was already persisted.
func (s *Store) Seed(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st = State{
		Players:     snap.Players,
		History:     snap.History,
		GameCount:   snap.GameCount,
		ActiveGame:  snap.ActiveGame,
		DisplayName: snap.DisplayName,
	}
}

// Update runs fn against a staged copy of the state. If fn returns an error
// the copy is discarded and nothing is committed, so every operation is
// all-or-nothing. On commit, a state-changed event carrying the new snapshot
// is published for the persistence side to pick up.
func (s *Store) Update(ctx context.Context, fn func(st *State) error) error {
	s.mu.Lock()

	staged := s.st.clone()
	if err := fn(&staged); err != nil {
		s.mu.Unlock()
		return err
	}

	s.st = staged
	snap := s.st.snapshot()
	s.mu.Unlock()

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventStateChanged{Snapshot: snap})
	}

	return nil
}

// View runs fn against a consistent copy of the state. fn may retain what it
// is given; it never aliases the store's internals.
func (s *Store) View(fn func(st State)) {
	s.mu.Lock()
	staged := s.st.clone()
	s.mu.Unlock()

	fn(staged)
}

// Snapshot returns the persistable form of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.snapshot()
}

func (st State) clone() State {
	out := State{
		Players:     make([]domain.Player, len(st.Players)),
		History:     make([]domain.HistoryEntry, len(st.History)),
		GameCount:   st.GameCount,
		DisplayName: st.DisplayName,
	}

	copy(out.Players, st.Players)

	// History entries carry their own slice and map, copied so retained
	// views cannot reach back into committed state.
	for i, e := range st.History {
		if e.Opponents != nil {
			e.Opponents = append([]string(nil), e.Opponents...)
		}
		if e.FinalScores != nil {
			scores := make(map[string]domain.FinalScore, len(e.FinalScores))
			for id, fs := range e.FinalScores {
				scores[id] = fs
			}
			e.FinalScores = scores
		}
		out.History[i] = e
	}

	if st.ActiveGame != nil {
		g := *st.ActiveGame
		if g.WinnerIDs != nil {
			g.WinnerIDs = append([]string(nil), g.WinnerIDs...)
		}
		out.ActiveGame = &g
	}

	return out
}

func (st State) snapshot() domain.Snapshot {
	c := st.clone()
	return domain.Snapshot{
		Players:     c.Players,
		History:     c.History,
		GameCount:   c.GameCount,
		ActiveGame:  c.ActiveGame,
		DisplayName: c.DisplayName,
	}
}
