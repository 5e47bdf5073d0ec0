package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/skypro1111/overlay-transcriber/internal/events"
)

const (
	eventBufferSize   = 256
	eventWriteTimeout = 5 * time.Second
)

// handleEvents streams hub events to a websocket client. An optional
// ?types=a,b query keeps only the listed event types. Events the client
// is too slow to take are dropped, never the connection.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("Websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	filter := parseTypeFilter(r.URL.Query().Get("types"))
	obs := events.NewChannelObserver(eventBufferSize)
	unsubscribe := h.hub.Subscribe(obs)
	defer unsubscribe()

	h.trackClient(1)
	defer h.trackClient(-1)
	h.logger.Info("Event client connected", slog.String("remote", r.RemoteAddr))

	// Clients never send; CloseRead handles their close frame.
	ctx := conn.CloseRead(h.baseCtx)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Event client disconnected",
				slog.String("remote", r.RemoteAddr),
				slog.Uint64("dropped", obs.Dropped()),
			)
			return
		case msg := <-obs.C:
			if filter != nil && !filter[msg.Type] {
				continue
			}
			if err := writeEvent(ctx, conn, msg); err != nil {
				h.logger.Debug("Event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, msg events.Message) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func parseTypeFilter(raw string) map[events.Type]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[events.Type]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[events.Type(t)] = true
		}
	}
	return filter
}

func (h *HTTPServer) trackClient(delta int) {
	h.clientsMu.Lock()
	h.clients += delta
	n := h.clients
	h.clientsMu.Unlock()
	h.metrics.SetEventClients(n)
}

func (h *HTTPServer) eventClients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return h.clients
}
