// Package snapshot persists the application state to redis as five
// independent values, mirroring the reference system's storage keys. A
// reader tolerates any missing key by substituting its default, so a fresh
// database loads as empty state.
package snapshot

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/raygc/pintintin/internal/domain"
)

const (
	keyPlayers  = "players"
	keyHistory  = "history"
	keyCount    = "count"
	keyActive   = "active"
	keyUsername = "username"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(c Config) *Store {
	return &Store{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Save writes the whole snapshot in one pipeline.
func (s *Store) Save(ctx context.Context, snap domain.Snapshot) error {
	players, err := json.Marshal(snap.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}

	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	active, err := json.Marshal(snap.ActiveGame)
	if err != nil {
		return fmt.Errorf("marshal active game: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.key(keyPlayers), players, 0)
	pipe.Set(ctx, s.key(keyHistory), history, 0)
	pipe.Set(ctx, s.key(keyCount), strconv.Itoa(snap.GameCount), 0)
	pipe.Set(ctx, s.key(keyActive), active, 0)
	pipe.Set(ctx, s.key(keyUsername), snap.DisplayName, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// Load reads the snapshot back. Each missing key falls back to its zero
// value independently.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	if b, ok, err := s.get(ctx, keyPlayers); err != nil {
		return snap, err
	} else if ok {
		if err := json.Unmarshal(b, &snap.Players); err != nil {
			return snap, fmt.Errorf("unmarshal players: %w", err)
		}
	}

	if b, ok, err := s.get(ctx, keyHistory); err != nil {
		return snap, err
	} else if ok {
		if err := json.Unmarshal(b, &snap.History); err != nil {
			return snap, fmt.Errorf("unmarshal history: %w", err)
		}
	}

	if b, ok, err := s.get(ctx, keyCount); err != nil {
		return snap, err
	} else if ok {
		n, err := strconv.Atoi(string(b))
		if err != nil {
			return snap, fmt.Errorf("parse game count: %w", err)
		}
		snap.GameCount = n
	}

	if b, ok, err := s.get(ctx, keyActive); err != nil {
		return snap, err
	} else if ok {
		if err := json.Unmarshal(b, &snap.ActiveGame); err != nil {
			return snap, fmt.Errorf("unmarshal active game: %w", err)
		}
	}

	if b, ok, err := s.get(ctx, keyUsername); err != nil {
		return snap, err
	} else if ok {
		snap.DisplayName = string(b)
	}

	return snap, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	return b, true, nil
}

func (s *Store) key(name string) string {
	return fmt.Sprintf("%s:%s", s.prefix, name)
}
