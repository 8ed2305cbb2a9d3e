package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/combat"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPushInterval = 500 * time.Millisecond
)

// wsPush is one message pushed to a connected consumer: a full
// snapshot_all() payload, refreshed on an interval rather than
// diffed, since the combat model is small per session.
type wsPush struct {
	Type    string                         `json:"type"`
	Actors  map[uint64]combat.ActorSummary `json:"actors"`
	Enemies map[uint64]combat.EnemyInfo    `json:"enemies"`
}

// wsHub upgrades requests and pushes periodic snapshots, grounded on
// rustyguts-bken's handler shape (upgrade, per-conn goroutine, send
// channel) but adapted to a pull/push snapshot model instead of chat.
type wsHub struct {
	dispatch *combat.Dispatcher
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func newWSHub(dispatch *combat.Dispatcher, log *zap.Logger) *wsHub {
	return &wsHub{
		dispatch: dispatch,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

func (h *wsHub) handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))

		return err
	}

	h.serveConn(conn)

	return nil
}

func (h *wsHub) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			push := wsPush{
				Type:    "snapshot",
				Actors:  h.dispatch.Snapshot(),
				Enemies: h.dispatch.SnapshotEnemies(),
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := conn.WriteJSON(push); err != nil {
				h.log.Debug("ws write error", zap.Error(err))

				return
			}
		}
	}
}
