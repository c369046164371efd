package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

// ChunkRefreshEvent is one push to a connected UI client. One event is
// sent per affected chunk so clients can refresh panes independently.
type ChunkRefreshEvent struct {
	Action  string `json:"action"` // "chunk_refresh" or "chunk_removed"
	ChunkID string `json:"chunkId"`
	Changed bool   `json:"changed"`
	Hash    string `json:"hash,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChangeEvents streams chunk refresh notifications to UI clients.
//
// # Description
//
// Upgrades the connection, assigns a session id, and subscribes to the
// pipeline's change feed. Every refresh pass fans out as one
// ChunkRefreshEvent per changed or removed chunk. The subscription is
// dropped when the client disconnects.
//
// # Route
//
// GET /v1/events
func HandleChangeEvents(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionID := uuid.New().String()
		slog.Info("Event stream client connected", "sessionID", sessionID)

		// Subscribe before the hello message so a client that has seen
		// session_created never misses a refresh.
		events, cancel := svc.Subscribe()
		defer cancel()

		// --- Send Session ID to client immediately on connect ---
		if err := sendJSON(ws, map[string]interface{}{
			"action":    "session_created",
			"sessionId": sessionID,
		}); err != nil {
			return // Close if we can't even send the first message
		}

		// Read pump: we never expect client messages, but reading is the
		// only way to notice a closed connection.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				for _, id := range event.Changed {
					hash := ""
					if chunk, ok := svc.Chunk(id); ok {
						hash = chunk.ContentHash
					}
					if err := sendJSON(ws, ChunkRefreshEvent{
						Action:  "chunk_refresh",
						ChunkID: id,
						Changed: true,
						Hash:    hash,
					}); err != nil {
						return
					}
				}
				for _, id := range event.Removed {
					if err := sendJSON(ws, ChunkRefreshEvent{
						Action:  "chunk_removed",
						ChunkID: id,
						Changed: true,
					}); err != nil {
						return
					}
				}
			case <-done:
				slog.Info("Event stream client disconnected", "sessionID", sessionID)
				return
			}
		}
	}
}
