// Package roster manages the durable player list.
package roster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/state"
)

type Config struct {
	Store *state.Store
}

type Service struct {
	store *state.Store
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
	}
}

type AddPlayerRequest struct {
	Name string
}

// AddPlayer adds a player with a fresh id and zero losses. Names are
// trimmed; duplicates are allowed, identity is the id.
func (s *Service) AddPlayer(ctx context.Context, req AddPlayerRequest) (*domain.Player, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name must not be empty"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p := domain.Player{
		PlayerID: id.String(),
		Name:     name,
	}

	err = s.store.Update(ctx, func(st *state.State) error {
		st.Players = append(st.Players, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

type RemovePlayerRequest struct {
	PlayerID string
}

// RemovePlayer deletes a player from the roster. If the player is part of
// the active game, the game is discarded with them: a session referencing a
// removed player is not a valid state.
func (s *Service) RemovePlayer(ctx context.Context, req RemovePlayerRequest) error {
	return s.store.Update(ctx, func(st *state.State) error {
		idx := -1
		for i, p := range st.Players {
			if p.PlayerID == req.PlayerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.New(errors.CodeNotFound,
				errors.WithMessagef("player not found: player=%s", req.PlayerID))
		}

		st.Players = append(st.Players[:idx], st.Players[idx+1:]...)

		if g := st.ActiveGame; g != nil && g.PlayerIndex(req.PlayerID) >= 0 {
			st.ActiveGame = nil
		}

		return nil
	})
}

// ListPlayers returns the roster in display order.
func (s *Service) ListPlayers(ctx context.Context) []domain.Player {
	var players []domain.Player
	s.store.View(func(st state.State) {
		players = st.Players
	})

	SortPlayers(players)
	return players
}

// SortPlayers orders a roster for display in place: most losses first,
// names breaking ties.
func SortPlayers(players []domain.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Losses != players[j].Losses {
			return players[i].Losses > players[j].Losses
		}
		return players[i].Name < players[j].Name
	})
}

type SetDisplayNameRequest struct {
	Name string
}

// SetDisplayName records the acting party's display name, persisted with
// the rest of the snapshot.
func (s *Service) SetDisplayName(ctx context.Context, req SetDisplayNameRequest) error {
	return s.store.Update(ctx, func(st *state.State) error {
		st.DisplayName = strings.TrimSpace(req.Name)
		return nil
	})
}
