package chat_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raygc/pintintin/internal/chat"
	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
)

// fakeConn records every payload written to it.
type fakeConn struct {
	mu     sync.Mutex
	writes []chat.Notification
}

func (c *fakeConn) WriteJSON(v any) error {
	// Round-trip through JSON the way a real socket would, so Data comes
	// back as generic values.
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var n chat.Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	c.mu.Lock()
	c.writes = append(c.writes, n)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) notifications(event string) []chat.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []chat.Notification
	for _, n := range c.writes {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}

const testChannel = "pintintin:chat"

func makeService(t *testing.T) (*chat.Service, redis.UniversalClient) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return chat.NewService(chat.Config{
		Redis:   rc,
		Channel: testChannel,
		Hub:     chat.NewHub(),
	}), rc
}

// waitSubscribed blocks until Run's subscription is live, so a following
// publish cannot race it.
func waitSubscribed(t *testing.T, rc redis.UniversalClient) {
	t.Helper()

	require.Eventually(t, func() bool {
		n, err := rc.PubSubNumSub(context.Background(), testChannel).Result()
		return err == nil && n[testChannel] > 0
	}, time.Second, 10*time.Millisecond, "the chat subscription should come up")
}

func TestService_presence(t *testing.T) {
	s, _ := makeService(t)

	first, second := &fakeConn{}, &fakeConn{}

	s.Join(first)
	s.Join(second)
	assert.Equal(t, 2, s.Count())

	// Everyone, the joiner included, hears every count change.
	counts := first.notifications(chat.EventUserCount)
	require.Len(t, counts, 2)
	assert.Equal(t, float64(1), counts[0].Data)
	assert.Equal(t, float64(2), counts[1].Data)

	s.Leave(first)
	assert.Equal(t, 1, s.Count())

	counts = second.notifications(chat.EventUserCount)
	require.Len(t, counts, 2)
	assert.Equal(t, float64(1), counts[1].Data)
}

func TestService_SendReceive(t *testing.T) {
	s, rc := makeService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	waitSubscribed(t, rc)

	conn := &fakeConn{}
	s.Join(conn)

	err := s.Send(ctx, domain.ChatMessage{User: "Raymond", Text: " ¡Pintintin! "})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(conn.notifications(chat.EventReceiveMessage)) == 1
	}, time.Second, 10*time.Millisecond, "the sender's message should fan back out")

	got := conn.notifications(chat.EventReceiveMessage)[0]
	data := got.Data.(map[string]any)
	assert.Equal(t, "Raymond", data["user"])
	assert.Equal(t, "¡Pintintin!", data["text"], "text is trimmed")
	assert.NotEmpty(t, data["id"], "missing ids are filled in")
	assert.NotZero(t, data["timestamp"])

	cancel()
	<-done
}

func TestService_Send_rejectsEmptyText(t *testing.T) {
	s, _ := makeService(t)

	err := s.Send(context.Background(), domain.ChatMessage{User: "Raymond", Text: "   "})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
}

func TestService_Send_defaultsAnonymous(t *testing.T) {
	s, rc := makeService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	waitSubscribed(t, rc)

	conn := &fakeConn{}
	s.Join(conn)

	require.NoError(t, s.Send(ctx, domain.ChatMessage{Text: "hola"}))

	require.Eventually(t, func() bool {
		return len(conn.notifications(chat.EventReceiveMessage)) == 1
	}, time.Second, 10*time.Millisecond)

	data := conn.notifications(chat.EventReceiveMessage)[0].Data.(map[string]any)
	assert.Equal(t, chat.AnonymousUser, data["user"])

	cancel()
	<-done
}
