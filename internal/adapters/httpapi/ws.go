package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Notifications buffered per connection before it counts as too slow.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer and the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Notifications streams every bus notification to a WebSocket client as one
// JSON text frame per notification. Clients that fall behind are dropped.
func (s *Server) Notifications(w http.ResponseWriter, r *http.Request) {
	log := logging.From(r.Context()).With(slog.String("remote", r.RemoteAddr))

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send := make(chan notify.Notification, sendBuffer)
	handler := func(_ context.Context, n notify.Notification) {
		select {
		case send <- n:
		default:
			log.Warn("dropping slow websocket client")
			cancel()
		}
	}
	tokens := make([]notify.Token, 0, len(notify.Topics))
	for _, topic := range notify.Topics {
		tokens = append(tokens, s.Bus.Subscribe(topic, handler))
	}
	defer func() {
		for _, t := range tokens {
			s.Bus.Unsubscribe(t)
		}
	}()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		log.Debug("websocket upgrade failed", logging.ErrAttr(err))
		return
	}

	go readPump(conn, cancel)
	writePump(ctx, conn, send)
	log.Debug("websocket closed")
}

// readPump discards client frames and handles pongs. It cancels the
// connection context once the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan notify.Notification) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case n := <-send:
			b, err := json.Marshal(n)
			if err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
