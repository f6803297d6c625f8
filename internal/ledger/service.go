// Package ledger keeps the append-only record of finished games, the
// per-player loss counters and the global game counter. RecordFinish is the
// single writer of all three, so they can never drift apart.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/event"
	"github.com/raygc/pintintin/internal/state"
)

const ReasonConfirmationRequired = "confirmation_required"

type Config struct {
	Store    *state.Store
	EventBus *event.Bus
	NowFunc  func() time.Time
}

type Service struct {
	store *state.Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.NowFunc,
	}

	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		_, err := s.RecordFinish(ctx, e.(domain.EventGameFinished).Result)
		return err
	})

	return s
}

// RecordFinish transcribes a finished game into an immutable history entry,
// prepends it to the log (log[0] is always the latest), increments the
// loser's loss count by one and the global counter by one.
func (s *Service) RecordFinish(ctx context.Context, res domain.GameResult) (*domain.HistoryEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate history entry ID: %w", err)
	}

	date := res.FinishedAt
	if date.IsZero() {
		date = s.now()
	}

	finalScores := make(map[string]domain.FinalScore, domain.TrioSize)
	for _, p := range res.Session.Players {
		finalScores[p.PlayerID] = domain.FinalScore{Name: p.Name, Score: p.Score}
	}

	entry := domain.HistoryEntry{
		EntryID:     id.String(),
		PlayerID:    res.Session.LoserID,
		Opponents:   res.Session.Opponents(res.Session.LoserID),
		FinalScores: finalScores,
		LossType:    res.LossType,
		FoulType:    res.FoulType,
		Date:        date,
	}

	err = s.store.Update(ctx, func(st *state.State) error {
		st.History = append([]domain.HistoryEntry{entry}, st.History...)

		for i := range st.Players {
			if st.Players[i].PlayerID == entry.PlayerID {
				st.Players[i].Losses++
				break
			}
		}

		st.GameCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventHistoryRecorded{Entry: entry})
	return &entry, nil
}

type ResetCounterRequest struct {
	Confirm bool
}

// ResetCounter zeroes the global game counter. It is irreversible and must
// be explicitly confirmed; the log and per-player losses are untouched.
func (s *Service) ResetCounter(ctx context.Context, req ResetCounterRequest) error {
	if !req.Confirm {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(ReasonConfirmationRequired),
			errors.WithMessagef("resetting the game counter must be confirmed"))
	}

	return s.store.Update(ctx, func(st *state.State) error {
		st.GameCount = 0
		return nil
	})
}

// QueryByPlayer returns every history entry naming the player as loser,
// preserving the log's newest-first order.
func (s *Service) QueryByPlayer(ctx context.Context, playerID string) []domain.HistoryEntry {
	var entries []domain.HistoryEntry
	s.store.View(func(st state.State) {
		for _, e := range st.History {
			if e.PlayerID == playerID {
				entries = append(entries, e)
			}
		}
	})

	return entries
}

// GameCount returns the global game counter.
func (s *Service) GameCount(ctx context.Context) int {
	var n int
	s.store.View(func(st state.State) {
		n = st.GameCount
	})

	return n
}

// PlayerStats is a player's standing across all recorded games.
type PlayerStats struct {
	PlayerID  string          `json:"playerId"`
	Name      string          `json:"name"`
	Losses    int             `json:"losses"`
	LossShare decimal.Decimal `json:"lossShare"`
}

// GetPlayerStats returns the player's loss count and their share of all
// recorded losses (zero when the log is empty).
func (s *Service) GetPlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	var (
		player *domain.Player
		total  int
	)

	s.store.View(func(st state.State) {
		total = len(st.History)
		for _, p := range st.Players {
			if p.PlayerID == playerID {
				p := p
				player = &p
				break
			}
		}
	})

	if player == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: player=%s", playerID))
	}

	stats := &PlayerStats{
		PlayerID: player.PlayerID,
		Name:     player.Name,
		Losses:   player.Losses,
	}

	if total > 0 {
		stats.LossShare = decimal.NewFromInt(int64(player.Losses)).
			Div(decimal.NewFromInt(int64(total)))
	}

	return stats, nil
}
