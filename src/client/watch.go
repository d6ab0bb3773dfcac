package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/apimgr/pharmacy/src/server/service"
)

// Watch streams the user's notification change events until ctx is
// canceled. Ping frames are answered by the dialer automatically;
// non-notification frames are ignored.
func (c *Client) Watch(ctx context.Context, handler func(service.NotificationEvent)) error {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/api/notifications/ws"

	header := http.Header{}
	header.Set("X-User-ID", strconv.Itoa(c.UserID))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return NewAPIError(resp.StatusCode, "websocket upgrade refused")
		}
		return NewConnectionError(err.Error())
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		switch frame.Type {
		case "notification":
			var ev service.NotificationEvent
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				continue
			}
			handler(ev)
		case "ping":
			_ = conn.WriteJSON(map[string]interface{}{"type": "pong"})
		}
	}
}
