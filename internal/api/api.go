// Package api exposes the game over HTTP: a JSON API for the state machine
// and roster, and a websocket endpoint for chat.
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/raygc/pintintin/internal/auth"
	"github.com/raygc/pintintin/internal/chat"
	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
	"github.com/raygc/pintintin/internal/game"
	"github.com/raygc/pintintin/internal/ledger"
	"github.com/raygc/pintintin/internal/roster"
	"github.com/raygc/pintintin/internal/state"
)

type Config struct {
	Engine    *gin.Engine
	Auth      *auth.Service
	Game      *game.Service
	Roster    *roster.Service
	Ledger    *ledger.Service
	Chat      *chat.Service
	Store     *state.Store
	PublicURL string
}

type API struct {
	auth      *auth.Service
	game      *game.Service
	roster    *roster.Service
	ledger    *ledger.Service
	chat      *chat.Service
	store     *state.Store
	publicURL string
}

func New(c Config) *API {
	a := &API{
		auth:      c.Auth,
		game:      c.Game,
		roster:    c.Roster,
		ledger:    c.Ledger,
		chat:      c.Chat,
		store:     c.Store,
		publicURL: c.PublicURL,
	}

	r := c.Engine
	r.Use(auth.Middleware())

	r.GET("/ws/chat", a.chatSocket)

	g := r.Group("/api")
	g.POST("/login", a.login)
	g.GET("/state", a.getState)

	g.POST("/players", auth.RequireMutate(), a.addPlayer)
	g.DELETE("/players/:id", auth.RequireMutate(), a.removePlayer)
	g.GET("/players/:id/history", a.playerHistory)
	g.GET("/players/:id/stats", a.playerStats)

	g.POST("/games", auth.RequireMutate(), a.createGame)
	g.DELETE("/games", auth.RequireMutate(), a.discardGame)
	g.POST("/games/points", auth.RequireMutate(), a.applyPoints)
	g.POST("/games/fouls", auth.RequireMutate(), a.applyFoul)
	g.POST("/games/tie", auth.RequireMutate(), a.resolveTie)
	g.GET("/games/share", a.shareGame)

	g.POST("/counter/reset", auth.RequireAdmin(), a.resetCounter)
	g.GET("/export", auth.RequireAdmin(), a.export)

	return a
}

func (a *API) abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	AsGuest  bool   `json:"asGuest"`
}

type LoginResponse struct {
	Role     auth.Role `json:"role"`
	Username string    `json:"username"`
}

func (a *API) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), auth.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		AsGuest:  req.AsGuest,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	// The logged-in name becomes the persisted display name.
	if err := a.roster.SetDisplayName(c.Request.Context(), roster.SetDisplayNameRequest{Name: resp.Username}); err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(200, LoginResponse{Role: resp.Role, Username: resp.Username})
}

type StateResponse struct {
	Players     []domain.Player       `json:"players"`
	History     []domain.HistoryEntry `json:"history"`
	GameCount   int                   `json:"gameCount"`
	ActiveGame  *domain.Session       `json:"activeGame"`
	DisplayName string                `json:"displayName"`
	UserCount   int                   `json:"userCount"`
}

// getState reports one committed state: everything, the sorted roster
// included, derives from a single snapshot.
func (a *API) getState(c *gin.Context) {
	snap := a.store.Snapshot()
	roster.SortPlayers(snap.Players)

	c.JSON(200, StateResponse{
		Players:     snap.Players,
		History:     snap.History,
		GameCount:   snap.GameCount,
		ActiveGame:  snap.ActiveGame,
		DisplayName: snap.DisplayName,
		UserCount:   a.chat.Count(),
	})
}

type AddPlayerRequest struct {
	Name string `json:"name"`
}

func (a *API) addPlayer(c *gin.Context) {
	var req AddPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.roster.AddPlayer(c.Request.Context(), roster.AddPlayerRequest{Name: req.Name})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(201, p)
}

func (a *API) removePlayer(c *gin.Context) {
	err := a.roster.RemovePlayer(c.Request.Context(), roster.RemovePlayerRequest{
		PlayerID: c.Param("id"),
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.Status(204)
}

func (a *API) playerHistory(c *gin.Context) {
	entries := a.ledger.QueryByPlayer(c.Request.Context(), c.Param("id"))
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}

	c.JSON(200, entries)
}

func (a *API) playerStats(c *gin.Context) {
	stats, err := a.ledger.GetPlayerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(200, stats)
}

type CreateGameRequest struct {
	PlayerIDs []string `json:"playerIds"`
	Replace   bool     `json:"replace"`
}

func (a *API) createGame(c *gin.Context) {
	var req CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.game.CreateGame(c.Request.Context(), game.CreateGameRequest{
		PlayerIDs: req.PlayerIDs,
		Replace:   req.Replace,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(201, g)
}

func (a *API) discardGame(c *gin.Context) {
	if err := a.game.DiscardGame(c.Request.Context()); err != nil {
		a.abort(c, err)
		return
	}

	c.Status(204)
}

type ApplyPointsRequest struct {
	PlayerID string `json:"playerId"`
	Points   int    `json:"points"`
}

func (a *API) applyPoints(c *gin.Context) {
	var req ApplyPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.game.ApplyPoints(c.Request.Context(), game.ApplyPointsRequest{
		PlayerID: req.PlayerID,
		Points:   req.Points,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(200, g)
}

type ApplyFoulRequest struct {
	PlayerID string `json:"playerId"`
	FoulType string `json:"foulType"`
}

func (a *API) applyFoul(c *gin.Context) {
	var req ApplyFoulRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.game.ApplyFoul(c.Request.Context(), game.ApplyFoulRequest{
		PlayerID: req.PlayerID,
		FoulType: req.FoulType,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(200, g)
}

type ResolveTieRequest struct {
	LoserID string `json:"loserId"`
}

func (a *API) resolveTie(c *gin.Context) {
	var req ResolveTieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	g, err := a.game.ResolveTie(c.Request.Context(), game.ResolveTieRequest{
		LoserID: req.LoserID,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(200, g)
}

type ShareResponse struct {
	URL string `json:"url"`
}

// shareGame builds the invitation link. Resolving it back into shared state
// is the opening client's concern.
func (a *API) shareGame(c *gin.Context) {
	gameID := "live"
	if snap := a.store.Snapshot(); snap.ActiveGame != nil {
		gameID = snap.ActiveGame.SessionID
	}

	c.JSON(200, ShareResponse{
		URL: fmt.Sprintf("%s?game=%s", a.publicURL, gameID),
	})
}

type ResetCounterRequest struct {
	Confirm bool `json:"confirm"`
}

func (a *API) resetCounter(c *gin.Context) {
	var req ResetCounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.ledger.ResetCounter(c.Request.Context(), ledger.ResetCounterRequest{
		Confirm: req.Confirm,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.Status(204)
}

func (a *API) export(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="pintintin.json"`)
	c.JSON(200, a.store.Snapshot())
}
