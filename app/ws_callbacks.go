package livechat

import (
	"fmt"

	"github.com/shopdesk/livechat/core"
	"golang.org/x/time/rate"
)

func (app *App) onConnect(conn *core.Conn) {
	id := conn.Identity()
	app.presence.Register(conn.ID(), id)
	app.limiters.Store(conn.ID(),
		rate.NewLimiter(rate.Limit(app.config.Chat.MessageRate), app.config.Chat.MessageBurst))

	if id.Role != core.RoleAgent && id.Role != core.RoleAdmin {
		return
	}

	// Agent dashboards follow every active conversation without per-room
	// polling. This is fan-out only: no membership ref-count, no join
	// broadcast, and explicit joins still go through authorization.
	app.presence.Subscribe(conn.ID(), core.GroupAgents)

	rooms, err := app.chatStore.GetActiveRooms(app.context)
	if err != nil {
		app.logger.Error(fmt.Sprintf("auto-joining active rooms: %v", err))
		return
	}
	for _, room := range rooms {
		app.presence.Subscribe(conn.ID(), core.GroupRoom(room.ID))
	}
}

func (app *App) onDisconnect(conn *core.Conn) {
	app.limiters.Delete(conn.ID())

	for _, notice := range app.session.Disconnect(conn.ID()) {
		app.eventRouter.EmitToConns(UserLeftEvent, PresencePayload{
			RoomID:   notice.RoomID,
			UserID:   notice.User.UserID,
			UserName: notice.User.DisplayName,
			Role:     notice.User.Role,
		}, notice.Remaining...)

		if notice.TypingCleared {
			app.broadcastTypingStatus(notice.RoomID, "")
		}
	}
}
