package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raygc/pintintin/internal/api"
	"github.com/raygc/pintintin/internal/auth"
	"github.com/raygc/pintintin/internal/chat"
	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/event"
	"github.com/raygc/pintintin/internal/game"
	"github.com/raygc/pintintin/internal/ledger"
	"github.com/raygc/pintintin/internal/roster"
	"github.com/raygc/pintintin/internal/state"
)

type harness struct {
	engine *gin.Engine
	chat   *chat.Service
	redis  redis.UniversalClient
}

func makeHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	store := state.NewStore(state.Config{EventBus: eb})

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})

	chatSvc := chat.NewService(chat.Config{
		Redis:   rc,
		Channel: "pintintin:chat",
		Hub:     chat.NewHub(),
	})

	engine := gin.New()
	api.New(api.Config{
		Engine: engine,
		Auth: auth.NewService(auth.Config{
			AdminUser: "Raymond",
			AdminPass: "shuffle-the-tiles",
		}),
		Game:      game.NewService(game.Config{Store: store, EventBus: eb}),
		Roster:    roster.NewService(roster.Config{Store: store}),
		Ledger:    ledger.NewService(ledger.Config{Store: store, EventBus: eb}),
		Chat:      chatSvc,
		Store:     store,
		PublicURL: "https://pintintin.example",
	})

	return &harness{engine: engine, chat: chatSvc, redis: rc}
}

func (h *harness) do(t *testing.T, method, path string, role auth.Role, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	if role != "" {
		req.Header.Set(auth.RoleHeader, string(role))
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (h *harness) addPlayer(t *testing.T, name string) domain.Player {
	t.Helper()

	w := h.do(t, http.MethodPost, "/api/players", auth.RoleUser, api.AddPlayerRequest{Name: name})
	require.Equal(t, 201, w.Code)
	return decode[domain.Player](t, w)
}

func TestAPI_login(t *testing.T) {
	h := makeHarness(t)

	tests := map[string]struct {
		req      api.LoginRequest
		code     int
		wantRole auth.Role
		wantName string
	}{
		"guest": {
			req:      api.LoginRequest{AsGuest: true},
			code:     200,
			wantRole: auth.RoleGuest,
			wantName: "Invitado",
		},
		"user": {
			req:      api.LoginRequest{Username: "Alma"},
			code:     200,
			wantRole: auth.RoleUser,
			wantName: "Alma",
		},
		"admin": {
			req:      api.LoginRequest{Username: "Raymond", Password: "shuffle-the-tiles"},
			code:     200,
			wantRole: auth.RoleAdmin,
			wantName: "Raymond",
		},
		"admin with wrong password": {
			req:  api.LoginRequest{Username: "Raymond", Password: "guess"},
			code: 401,
		},
		"empty username": {
			req:  api.LoginRequest{},
			code: 400,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/login", "", tt.req)
			require.Equal(t, tt.code, w.Code)
			if tt.code != 200 {
				return
			}

			got := decode[api.LoginResponse](t, w)
			assert.Equal(t, tt.wantRole, got.Role)
			assert.Equal(t, tt.wantName, got.Username)
		})
	}
}

func TestAPI_login_setsDisplayName(t *testing.T) {
	h := makeHarness(t)

	w := h.do(t, http.MethodPost, "/api/login", "", api.LoginRequest{Username: "Alma"})
	require.Equal(t, 200, w.Code)

	st := decode[api.StateResponse](t, h.do(t, http.MethodGet, "/api/state", "", nil))
	assert.Equal(t, "Alma", st.DisplayName)
}

func TestAPI_roleGuards(t *testing.T) {
	h := makeHarness(t)

	tests := map[string]struct {
		method string
		path   string
		role   auth.Role
	}{
		"guest cannot add players":    {method: http.MethodPost, path: "/api/players", role: auth.RoleGuest},
		"guest cannot remove players": {method: http.MethodDelete, path: "/api/players/p-1", role: auth.RoleGuest},
		"guest cannot create games":   {method: http.MethodPost, path: "/api/games", role: auth.RoleGuest},
		"guest cannot score":          {method: http.MethodPost, path: "/api/games/points", role: auth.RoleGuest},
		"missing role means guest":    {method: http.MethodPost, path: "/api/games", role: ""},
		"user cannot reset counter":   {method: http.MethodPost, path: "/api/counter/reset", role: auth.RoleUser},
		"user cannot export":          {method: http.MethodGet, path: "/api/export", role: auth.RoleUser},
		"unknown role falls to guest": {method: http.MethodPost, path: "/api/players", role: "root"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.role, nil)
			assert.Equal(t, 403, w.Code)
		})
	}
}

func TestAPI_gameFlow(t *testing.T) {
	h := makeHarness(t)

	alma := h.addPlayer(t, "Alma")
	bruno := h.addPlayer(t, "Bruno")
	celia := h.addPlayer(t, "Celia")

	w := h.do(t, http.MethodPost, "/api/games", auth.RoleUser, api.CreateGameRequest{
		PlayerIDs: []string{alma.PlayerID, bruno.PlayerID, celia.PlayerID},
	})
	require.Equal(t, 201, w.Code)

	points := []api.ApplyPointsRequest{
		{PlayerID: bruno.PlayerID, Points: 30},
		{PlayerID: celia.PlayerID, Points: 10},
		{PlayerID: alma.PlayerID, Points: 150},
	}
	var last *domain.Session
	for _, p := range points {
		w = h.do(t, http.MethodPost, "/api/games/points", auth.RoleUser, p)
		require.Equal(t, 200, w.Code)
		s := decode[domain.Session](t, w)
		last = &s
	}

	require.True(t, last.IsFinished)
	assert.Equal(t, alma.PlayerID, last.WinnerID)
	assert.Equal(t, celia.PlayerID, last.LoserID)

	// The ledger records the finish through the bus, so give it a moment.
	var st api.StateResponse
	require.Eventually(t, func() bool {
		body := h.do(t, http.MethodGet, "/api/state", "", nil).Body.Bytes()
		if json.Unmarshal(body, &st) != nil {
			return false
		}
		return st.GameCount == 1 && len(st.History) == 1
	}, time.Second, 10*time.Millisecond, "the finish should reach the ledger")

	entry := st.History[0]
	assert.Equal(t, celia.PlayerID, entry.PlayerID)
	assert.Equal(t, domain.LossByPoints, entry.LossType)

	// Losses reorder the roster, loser first.
	require.Len(t, st.Players, 3)
	assert.Equal(t, "Celia", st.Players[0].Name)
	assert.Equal(t, 1, st.Players[0].Losses)

	history := decode[[]domain.HistoryEntry](t, h.do(t, http.MethodGet, "/api/players/"+celia.PlayerID+"/history", "", nil))
	require.Len(t, history, 1)
	assert.Equal(t, entry.EntryID, history[0].EntryID)

	stats := decode[ledger.PlayerStats](t, h.do(t, http.MethodGet, "/api/players/"+celia.PlayerID+"/stats", "", nil))
	assert.Equal(t, 1, stats.Losses)
}

func TestAPI_resetCounter(t *testing.T) {
	h := makeHarness(t)

	w := h.do(t, http.MethodPost, "/api/counter/reset", auth.RoleAdmin, api.ResetCounterRequest{})
	assert.Equal(t, 409, w.Code, "reset needs explicit confirmation")

	w = h.do(t, http.MethodPost, "/api/counter/reset", auth.RoleAdmin, api.ResetCounterRequest{Confirm: true})
	assert.Equal(t, 204, w.Code)
}

func TestAPI_shareGame(t *testing.T) {
	h := makeHarness(t)

	share := decode[api.ShareResponse](t, h.do(t, http.MethodGet, "/api/games/share", "", nil))
	assert.Equal(t, "https://pintintin.example?game=live", share.URL)

	alma := h.addPlayer(t, "Alma")
	bruno := h.addPlayer(t, "Bruno")
	celia := h.addPlayer(t, "Celia")

	w := h.do(t, http.MethodPost, "/api/games", auth.RoleUser, api.CreateGameRequest{
		PlayerIDs: []string{alma.PlayerID, bruno.PlayerID, celia.PlayerID},
	})
	require.Equal(t, 201, w.Code)
	g := decode[domain.Session](t, w)

	share = decode[api.ShareResponse](t, h.do(t, http.MethodGet, "/api/games/share", "", nil))
	assert.Equal(t, "https://pintintin.example?game="+g.SessionID, share.URL)
}

func TestAPI_export(t *testing.T) {
	h := makeHarness(t)
	h.addPlayer(t, "Alma")

	w := h.do(t, http.MethodGet, "/api/export", auth.RoleAdmin, nil)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "pintintin.json")

	snap := decode[domain.Snapshot](t, w)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "Alma", snap.Players[0].Name)
}

func TestAPI_chatSocket(t *testing.T) {
	h := makeHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.chat.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := h.redis.PubSubNumSub(ctx, "pintintin:chat").Result()
		return err == nil && n["pintintin:chat"] > 0
	}, time.Second, 10*time.Millisecond, "the chat subscription should come up")

	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?user=Alma"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// Joining announces the participant count to the joiner too.
	var n chat.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, chat.EventUserCount, n.Event)
	assert.Equal(t, float64(1), n.Data)

	require.NoError(t, conn.WriteJSON(domain.ChatMessage{Text: "¡buena salida!"}))

	require.NoError(t, conn.ReadJSON(&n))
	require.Equal(t, chat.EventReceiveMessage, n.Event)

	msg := n.Data.(map[string]any)
	assert.Equal(t, "Alma", msg["user"], "the query string user fills in missing senders")
	assert.Equal(t, "¡buena salida!", msg["text"])
}
