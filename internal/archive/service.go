// Package archive keeps a durable postgres copy of the history log, fed by
// history-recorded events. The in-process ledger stays authoritative; the
// archive is the copy that survives the snapshot store.
package archive

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/event"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
	}

	c.EventBus.Subscribe(domain.EventNameHistoryRecorded, func(ctx context.Context, e event.Event) error {
		return s.Insert(ctx, e.(domain.EventHistoryRecorded).Entry)
	})

	return s
}

// Insert stores one history entry. Replaying an already archived entry
// returns AlreadyExists.
func (s *Service) Insert(ctx context.Context, entry domain.HistoryEntry) error {
	opponents, err := json.Marshal(entry.Opponents)
	if err != nil {
		return fmt.Errorf("marshal opponents: %w", err)
	}

	scores, err := json.Marshal(entry.FinalScores)
	if err != nil {
		return fmt.Errorf("marshal final scores: %w", err)
	}

	const stmt = `
INSERT INTO history (entry_id, loser_id, opponents, final_scores, loss_type, foul_type, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err = s.db.Exec(ctx, stmt,
		entry.EntryID, entry.PlayerID, opponents, scores,
		string(entry.LossType), entry.FoulType, entry.Date)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("history entry already archived: entry=%s", entry.EntryID),
			errors.WithCause(err))
	}

	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	return nil
}

type ListByPlayerRequest struct {
	PlayerID string
}

// ListByPlayer reads back the archived losses of one player, newest first.
func (s *Service) ListByPlayer(ctx context.Context, req ListByPlayerRequest) ([]domain.HistoryEntry, error) {
	const stmt = `
SELECT entry_id, loser_id, opponents, final_scores, loss_type, foul_type, finished_at
FROM history
WHERE loser_id = $1
ORDER BY finished_at DESC;`

	rows, err := s.db.Query(ctx, stmt, req.PlayerID)
	if err != nil {
		return nil, err
	}

	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.HistoryEntry, error) {
		var (
			e                 domain.HistoryEntry
			lossType          string
			opponents, scores []byte
		)
		if err := r.Scan(&e.EntryID, &e.PlayerID, &opponents, &scores, &lossType, &e.FoulType, &e.Date); err != nil {
			return domain.HistoryEntry{}, err
		}
		if err := json.Unmarshal(opponents, &e.Opponents); err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("unmarshal opponents: %w", err)
		}
		if err := json.Unmarshal(scores, &e.FinalScores); err != nil {
			return domain.HistoryEntry{}, fmt.Errorf("unmarshal final scores: %w", err)
		}
		e.LossType = domain.LossType(lossType)
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
