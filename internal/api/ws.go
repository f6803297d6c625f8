package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raygc/pintintin/internal/chat"
	"github.com/raygc/pintintin/internal/domain"
	"github.com/raygc/pintintin/internal/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// chatSocket upgrades the connection, announces presence and relays inbound
// messages into the chat channel until the client hangs up.
func (a *API) chatSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	a.chat.Join(conn)
	defer a.chat.Leave(conn)

	user := c.Query("user")

	for {
		var msg domain.ChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		if msg.User == "" {
			msg.User = user
		}

		if err := a.chat.Send(c.Request.Context(), msg); err != nil {
			a.chat.Reply(conn, chat.Notification{Event: "error", Data: errors.Convert(err)})
		}
	}
}
