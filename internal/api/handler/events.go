package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/edvin/revive/internal/events"
)

const eventWriteTimeout = 5 * time.Second

// Subscriber hands out event subscriptions.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

type Events struct {
	bus Subscriber
}

func NewEvents(bus Subscriber) *Events {
	return &Events{bus: bus}
}

// Stream upgrades to a WebSocket and forwards device state changes until
// either side goes away.
func (h *Events) Stream(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	// The stream is write-only; CloseRead handles control frames and
	// cancels ctx once the client disconnects.
	ctx := ws.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				ws.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(ctx, ws, ev); err != nil {
				logger.Debug().Err(err).Msg("event stream closed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
