package system

import (
	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

type WebSocketController struct {
	Feed   *DeliveryFeed
	Logger *zap.Logger
}

func NewWebSocketController(feed *DeliveryFeed, logger *zap.Logger) *WebSocketController {
	return &WebSocketController{
		Feed:   feed,
		Logger: logger,
	}
}

// HandleDeliveries streams delivery events to the client until it
// disconnects. The read loop exists only to detect the close.
func (h *WebSocketController) HandleDeliveries(c *websocket.Conn) {
	ch := h.Feed.Subscribe()
	defer h.Feed.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.Logger.Debug("delivery feed write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
