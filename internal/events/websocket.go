package events

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsWriteTimeout bounds how long one event write may take before the
// connection is considered dead.
const wsWriteTimeout = 10 * time.Second

// WSHandler streams bus events over a WebSocket connection, for clients
// that cannot use SSE.
type WSHandler struct {
	bus *Bus
	log zerolog.Logger
}

// NewWSHandler creates a new WebSocket streaming handler.
func NewWSHandler(bus *Bus, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		bus: bus,
		log: log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin policy is enforced by the CORS layer above.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	allowed := parseTypesFilter(r.URL.Query().Get("types"))

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	h.log.Info().Msg("WebSocket client connected")

	// Reads are only needed to surface close frames.
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			h.log.Info().Msg("WebSocket client disconnected")
			return

		case event, open := <-events:
			if !open {
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			writeCtx, cancel := context.WithTimeout(readCtx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("WebSocket write failed, closing")
				return
			}
		}
	}
}
