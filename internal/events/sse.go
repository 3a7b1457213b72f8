package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// sseHeartbeat keeps idle SSE connections alive through proxies.
const sseHeartbeat = 30 * time.Second

// SSEHandler streams bus events to clients over Server-Sent Events.
type SSEHandler struct {
	bus *Bus
	log zerolog.Logger
}

// NewSSEHandler creates a new SSE streaming handler.
func NewSSEHandler(bus *Bus, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		bus: bus,
		log: log.With().Str("component", "events_sse").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE). A "types"
// query parameter limits the stream to a comma-separated set of event
// types.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	allowed := parseTypesFilter(r.URL.Query().Get("types"))

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	h.log.Info().Msg("Client connected to event stream")

	// Send initial connection message
	fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event, open := <-events:
			if !open {
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", h.encode(event))
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

func parseTypesFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		allowed[strings.TrimSpace(t)] = true
	}
	return allowed
}
