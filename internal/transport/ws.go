package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owlglass/typewritermonkey/internal/engine"
	"github.com/owlglass/typewritermonkey/internal/logging"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// wireCharEvent and wireWordEvent are the WebSocket wire shapes: a
// small discriminated envelope around each broadcast event so one
// socket can multiplex both kinds.
type wireCharEvent struct {
	Type  string `json:"type"`
	Index uint64 `json:"index"`
	Ch    string `json:"ch"`
}

type wireWordEvent struct {
	Type  string `json:"type"`
	Start uint64 `json:"start"`
	Len   int    `json:"len"`
	Word  string `json:"word"`
}

type wireCursor struct {
	Type   string `json:"type"`
	Cursor uint64 `json:"cursor"`
}

type wireInitWords struct {
	Type  string          `json:"type"`
	Words []wireWordEvent `json:"words"`
}

// handleWS upgrades the connection, subscribes to the engine, and
// streams events until the client disconnects. Subscribe registers
// the subscriber and snapshots its cursor atomically under the
// engine's lock, so the first live event this connection sees is
// guaranteed to be at or after the sent cursor.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("transport: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub, cursor, initWords := s.engine.Subscribe()
	defer s.engine.Unsubscribe(sub)

	if err := s.sendSnapshot(conn, cursor, initWords); err != nil {
		logging.Log("transport: sending ws snapshot failed: %v", err)
		return
	}

	// Clients send nothing; this loop's only purpose is to detect
	// disconnect, since gorilla/websocket needs reads pumped to notice
	// a closed connection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range sub.Events() {
		if err := s.sendEvent(conn, ev); err != nil {
			logging.Log("transport: ws send failed, disconnecting: %v", err)
			return
		}
	}
}

func (s *Server) sendSnapshot(conn *websocket.Conn, cursor uint64, initWords []worddetect.Hit) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(wireCursor{Type: "cursor", Cursor: cursor}); err != nil {
		return err
	}

	words := make([]wireWordEvent, len(initWords))
	for i, h := range initWords {
		words[i] = wireWordEvent{Type: "word", Start: h.Start, Len: h.Len, Word: h.Word}
	}
	return conn.WriteJSON(wireInitWords{Type: "init-words", Words: words})
}

func (s *Server) sendEvent(conn *websocket.Conn, ev interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	switch e := ev.(type) {
	case engine.CharEvent:
		return conn.WriteJSON(wireCharEvent{Type: "char", Index: e.Index, Ch: string(e.Ch)})
	case engine.WordEvent:
		return conn.WriteJSON(wireWordEvent{Type: "word", Start: e.Start, Len: e.Len, Word: e.Word})
	default:
		return nil
	}
}
