package game

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // CORS is enforced at the HTTP layer
}

type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
}

// handleWS binds a player's live connection to a room:
// /ws?roomId=xxx&playerId=yyy&name=zzz
// Binding with a known player id refreshes the handle (reconnect).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	playerID := r.URL.Query().Get("playerId")
	name := r.URL.Query().Get("name")

	if roomID == "" || playerID == "" {
		http.Error(w, "missing roomId or playerId", http.StatusBadRequest)
		return
	}

	room, ok := s.rooms.Get(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}

	if err := room.Bind(playerID, name, cc); err != nil {
		_ = ws.WriteJSON(Envelope{
			Type:    "roomError",
			Payload: mustJSON(RoomErrorPayload{Message: err.Error()}),
		})
		cc.Close()
		return
	}

	// writer loop
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-cc.send:
				if !ok {
					return
				}
				_ = ws.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				_ = ws.WriteMessage(websocket.PingMessage, []byte{})
			}
		}
	}()

	// reader loop
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "clues":
			var p SubmitCluesPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				continue
			}
			// stale payloads addressed to another session are dropped
			if p.SessionID != "" && p.SessionID != room.ID() {
				continue
			}
			room.SubmitClue(p.AuthorID, string(p.Clues))

		case "fetchClues":
			var p FetchCluesPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				continue
			}
			if p.SessionID != "" && p.SessionID != room.ID() {
				continue
			}
			room.SendCluesTo(cc, p.PlayerID)

		case "fetchLobby":
			room.SendLobbyTo(cc)

		default:
			// unknown types are ignored; the push channel is best-effort
		}
	}

	// disconnect: clear the handle, notify the lobby, arm the reap timer
	room.Detach(playerID, cc)
	cc.Close()
	s.rooms.ScheduleReap(roomID)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
