// Package game implements the Pintintin session engine: creation of a trio
// game, point scoring, win detection, loser tie-break resolution, fouls and
// the transition into a finished, immutable session.
package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/event"
	"github.com/raygc/pintintin/internal/state"
	"github.com/raygc/pintintin/internal/telemetry"
)

// Stable rejection reasons for the engine's coded errors.
const (
	ReasonInvalidTrio      = "invalid_trio"
	ReasonNoActiveGame     = "no_active_game"
	ReasonUnknownPlayer    = "unknown_player"
	ReasonInvalidLoser     = "invalid_loser"
	ReasonTiePending       = "tie_pending"
	ReasonNoTiePending     = "no_tie_pending"
	ReasonActiveGameExists = "active_game_exists"
)

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

	return s
}

// CreateGameRequest selects the trio for a new game, in display order.
// Replace acknowledges discarding an in-progress game; without it, creating
// over an unfinished game is rejected.
type CreateGameRequest struct {
	PlayerIDs []string
	Replace   bool
}

// CreateGame starts a new game for exactly three distinct rostered players
// and makes it the active session.
func (s *Service) CreateGame(ctx context.Context, req CreateGameRequest) (*domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate game ID: %w", err)
	}

	var out domain.Session
	err = s.store.Update(ctx, func(st *state.State) error {
		if st.ActiveGame != nil && !st.ActiveGame.IsFinished && !req.Replace {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(ReasonActiveGameExists),
				errors.WithMessagef("a game is already in progress: game=%s", st.ActiveGame.SessionID))
		}

		trio, err := pickTrio(st.Players, req.PlayerIDs)
		if err != nil {
			return err
		}

		g := domain.Session{
			SessionID: id.String(),
			Players:   trio,
		}

		st.ActiveGame = &g
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func pickTrio(roster []domain.Player, playerIDs []string) ([domain.TrioSize]domain.SessionPlayer, error) {
	var trio [domain.TrioSize]domain.SessionPlayer

	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(ReasonInvalidTrio),
			errors.WithMessagef(format, args...))
	}

	if len(playerIDs) != domain.TrioSize {
		return trio, invalid("a game needs exactly %d players, got %d", domain.TrioSize, len(playerIDs))
	}

	seen := make(map[string]bool, domain.TrioSize)
	for i, id := range playerIDs {
		if seen[id] {
			return trio, invalid("player selected twice: player=%s", id)
		}
		seen[id] = true

		found := false
		for _, p := range roster {
			if p.PlayerID == id {
				trio[i] = domain.SessionPlayer{PlayerID: p.PlayerID, Name: p.Name}
				found = true
				break
			}
		}
		if !found {
			return trio, invalid("player is not on the roster: player=%s", id)
		}
	}

	return trio, nil
}

type ApplyPointsRequest struct {
	PlayerID string
	Points   int
}

// ApplyPoints adds points to one player of the active game and evaluates the
// win condition. Crossing the threshold either finishes the game (unique
// lowest non-winner loses) or enters the tie-break state when the two
// non-winners are level.
func (s *Service) ApplyPoints(ctx context.Context, req ApplyPointsRequest) (*domain.Session, error) {
	if req.Points <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("points must be positive, got %d", req.Points))
	}

	var (
		out    domain.Session
		result *domain.GameResult
	)

	err := s.store.Update(ctx, func(st *state.State) error {
		g, err := s.openGame(st)
		if err != nil {
			return err
		}

		idx := g.PlayerIndex(req.PlayerID)
		if idx < 0 {
			return errUnknownPlayer(req.PlayerID)
		}

		g.Players[idx].Score += req.Points

		if g.Players[idx].Score >= domain.WinningScore {
			result = s.settleWin(g, idx)
		}

		out = *g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, result)
	return &out, nil
}

// settleWin resolves the standing of the two non-winners once the player at
// winnerIdx has crossed the threshold. With distinct scores the lower loses
// at once; level scores leave the game awaiting a tie-break.
func (s *Service) settleWin(g *domain.Session, winnerIdx int) *domain.GameResult {
	winner := g.Players[winnerIdx]

	var others []domain.SessionPlayer
	for i, p := range g.Players {
		if i != winnerIdx {
			others = append(others, p)
		}
	}

	if others[0].Score == others[1].Score {
		g.WinnerID = winner.PlayerID
		g.TieForLoser = true
		return nil
	}

	loser := others[0]
	if others[1].Score < loser.Score {
		loser = others[1]
	}

	return s.finalize(g, []string{winner.PlayerID}, loser.PlayerID, domain.LossByPoints, "")
}

type ResolveTieRequest struct {
	LoserID string
}

// ResolveTie settles a pending loser tie with an out-of-band decision (the
// supplementary hand is played at the table, not simulated here): the chosen
// player, one of the tied pair, loses by points.
func (s *Service) ResolveTie(ctx context.Context, req ResolveTieRequest) (*domain.Session, error) {
	var (
		out    domain.Session
		result *domain.GameResult
	)

	err := s.store.Update(ctx, func(st *state.State) error {
		g := st.ActiveGame
		if g == nil || g.IsFinished {
			return errNoActiveGame()
		}

		if !g.TieForLoser {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithReason(ReasonNoTiePending),
				errors.WithMessagef("no loser tie to resolve: game=%s", g.SessionID))
		}

		if req.LoserID == g.WinnerID || g.PlayerIndex(req.LoserID) < 0 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithReason(ReasonInvalidLoser),
				errors.WithMessagef("loser must be one of the tied pair: player=%s", req.LoserID))
		}

		result = s.finalize(g, []string{g.WinnerID}, req.LoserID, domain.LossByPoints, "")
		out = *g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, result)
	return &out, nil
}

type ApplyFoulRequest struct {
	PlayerID string
	FoulType string
}

// ApplyFoul ends the game instantly, score-independent: the offender is the
// sole loser and the two remaining players are both winners. The label is
// recorded verbatim; the canonical three are offered by the UI, not enforced.
func (s *Service) ApplyFoul(ctx context.Context, req ApplyFoulRequest) (*domain.Session, error) {
	label := strings.TrimSpace(req.FoulType)
	if label == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("foul label must not be empty"))
	}

	var (
		out    domain.Session
		result *domain.GameResult
	)

	err := s.store.Update(ctx, func(st *state.State) error {
		g, err := s.openGame(st)
		if err != nil {
			return err
		}

		if g.PlayerIndex(req.PlayerID) < 0 {
			return errUnknownPlayer(req.PlayerID)
		}

		winners := make([]string, 0, domain.TrioSize-1)
		for _, p := range g.Players {
			if p.PlayerID != req.PlayerID {
				winners = append(winners, p.PlayerID)
			}
		}

		result = s.finalize(g, winners, req.PlayerID, domain.LossByFoul, label)
		out = *g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, result)
	return &out, nil
}

// DiscardGame clears the active session, whether finished, tied or still
// open. Discarding when no game is active is a no-op.
func (s *Service) DiscardGame(ctx context.Context) error {
	return s.store.Update(ctx, func(st *state.State) error {
		st.ActiveGame = nil
		return nil
	})
}

// finalize freezes the session and builds the terminal GameFinished result.
// It runs inside the store's mutation and must stay pure: publication
// happens after the state committed.
func (s *Service) finalize(g *domain.Session, winnerIDs []string, loserID string, lossType domain.LossType, foulType string) *domain.GameResult {
	g.IsFinished = true
	g.TieForLoser = false
	g.WinnerID = winnerIDs[0]
	if len(winnerIDs) > 1 {
		g.WinnerIDs = winnerIDs
	}
	g.LoserID = loserID

	return &domain.GameResult{
		Session:    *g,
		LossType:   lossType,
		FoulType:   foulType,
		FinishedAt: s.now(),
	}
}

func (s *Service) published(ctx context.Context, result *domain.GameResult) {
	if result == nil {
		return
	}

	telemetry.GamesFinished.WithLabelValues(string(result.LossType)).Inc()
	s.eb.Publish(ctx, domain.EventGameFinished{Result: *result})
}

// openGame returns the active game if it can still take scoring actions.
func (s *Service) openGame(st *state.State) (*domain.Session, error) {
	g := st.ActiveGame
	if g == nil || g.IsFinished {
		return nil, errNoActiveGame()
	}

	if g.TieForLoser {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(ReasonTiePending),
			errors.WithMessagef("loser tie must be resolved first: game=%s", g.SessionID))
	}

	return g, nil
}

func errNoActiveGame() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(ReasonNoActiveGame),
		errors.WithMessagef("no open game"))
}

func errUnknownPlayer(playerID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(ReasonUnknownPlayer),
		errors.WithMessagef("player is not part of the active game: player=%s", playerID))
}
