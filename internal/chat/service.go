// Package chat relays opaque chat messages between participants and tracks
// a live participant count. It is deliberately uncorrelated with game
// state: messages pass through a redis pubsub channel and fan out to every
// connected websocket client, so chat crosses server instances.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/telemetry"
)

const (
	// Notification events pushed to websocket clients.
	EventReceiveMessage = "receive_message"
	EventUserCount      = "user_count"

	// AnonymousUser names senders that never identified themselves.
	AnonymousUser = "Anónimo"
)

// Notification is the envelope for everything pushed to chat clients.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Config struct {
	Redis   redis.UniversalClient
	Channel string
	Hub     *Hub
}

type Service struct {
	redis   redis.UniversalClient
	channel string
	hub     *Hub
}

func NewService(c Config) *Service {
	return &Service{
		redis:   c.Redis,
		channel: c.Channel,
		hub:     c.Hub,
	}
}

// Join registers a client and announces the new participant count to
// everyone, the joiner included.
func (s *Service) Join(c Conn) {
	n := s.hub.Register(c)
	telemetry.ChatClients.Set(float64(n))
	s.hub.Broadcast(Notification{Event: EventUserCount, Data: n})
}

// Leave removes a client and announces the new participant count.
func (s *Service) Leave(c Conn) {
	n := s.hub.Unregister(c)
	telemetry.ChatClients.Set(float64(n))
	s.hub.Broadcast(Notification{Event: EventUserCount, Data: n})
}

// Count returns the current participant count.
func (s *Service) Count() int {
	return s.hub.Count()
}

// Reply writes a notification to a single client, serialized with the fan
// out so the connection never sees concurrent writes.
func (s *Service) Reply(c Conn, n Notification) {
	s.hub.Send(c, n)
}

// Send publishes a message to the chat channel. Missing id, user or
// timestamp are filled in; senders see their own message echoed back
// through the channel like everyone else.
func (s *Service) Send(ctx context.Context, msg domain.ChatMessage) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("chat message must not be empty"))
	}

	if msg.MessageID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message ID: %w", err)
		}
		msg.MessageID = id.String()
	}

	if msg.User == "" {
		msg.User = AnonymousUser
	}

	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	return s.redis.Publish(ctx, s.channel, b).Err()
}

// Run subscribes to the chat channel and fans every received message out to
// the local clients. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub := s.redis.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}

			var msg domain.ChatMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				slog.ErrorContext(ctx, "chat: dropping malformed message", "error", err)
				continue
			}

			s.hub.Broadcast(Notification{Event: EventReceiveMessage, Data: msg})
		}
	}
}
