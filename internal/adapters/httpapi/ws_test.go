package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
)

func TestNotificationsStream(t *testing.T) {
	api := newTestAPI(t, RouterOptions{AuthMiddleware: NewTokenAuthMiddleware("s3cret")})
	srv := httptest.NewServer(api.handler)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token=s3cret", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	api.bus.Publish(notify.TopicCalendarSync, "e1")
	api.bus.Publish(notify.TopicHostUnreachable)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first, second notify.Notification
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if first.Topic != notify.TopicCalendarSync || len(first.Subjects) != 1 || first.Subjects[0] != "e1" {
		t.Fatalf("first = %+v", first)
	}
	if second.Topic != notify.TopicHostUnreachable || len(second.Subjects) != 0 {
		t.Fatalf("second = %+v", second)
	}
}
