// Package transport adapts the streaming engine to its external
// interfaces: a small REST surface (`/v1/status`, `/v1/stats`,
// `/v1/chars`, `/v1/healthz`) and a WebSocket feed (`/ws`) of `char` and `word`
// events. Routing uses github.com/gorilla/mux and the WebSocket
// upgrade uses github.com/gorilla/websocket.
package transport

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/owlglass/typewritermonkey/internal/dictionary"
	"github.com/owlglass/typewritermonkey/internal/engine"
	"github.com/owlglass/typewritermonkey/internal/logging"
)

// maxChars is the /chars length ceiling, 16 times the chunk size.
const maxChars = 16 * 8192

// Server holds everything the HTTP handlers need.
type Server struct {
	engine *engine.Engine
	dict   *dictionary.Dictionary
}

// NewServer constructs a Server bound to a running engine and the
// loaded dictionary (for /v1/status's dictionarySize field).
func NewServer(e *engine.Engine, dict *dictionary.Dictionary) *Server {
	return &Server{engine: e, dict: dict}
}

// Router builds the mux.Router exposing every HTTP and WebSocket endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/chars", s.handleChars).Methods(http.MethodGet)
	v1.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	return r
}

// handleHealthz surfaces the fatal-backend-failure error class (spec
// §7: "surface via health endpoint"). It reports 200 while generation
// is running and 503 once a fatal rollover failure has halted it.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy, reason := s.engine.Healthy()
	status := http.StatusOK
	body := map[string]interface{}{"healthy": healthy}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["reason"] = reason
	}
	writeJSON(w, status, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status(s.dict.Size())
	body := map[string]interface{}{
		"cursor":         st.Cursor,
		"chunks":         st.Chunks,
		"dictionarySize": st.DictionarySize,
		"users":          st.Users,
		"charsPerMinute": st.CharsPerMinute,
		"uptimeSec":      st.UptimeSec,
		"healthy":        st.Healthy,
	}
	if !st.Healthy {
		body["haltedReason"] = st.HaltedReason
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status(s.dict.Size())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":          st.Users,
		"charsPerMinute": st.CharsPerMinute,
	})
}

func (s *Server) handleChars(w http.ResponseWriter, r *http.Request) {
	start, length, ok := parseCharsQuery(r.URL.Query().Get("start"), r.URL.Query().Get("len"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid start or len"})
		return
	}

	text, err := s.engine.ReadSlice(r.Context(), start, length)
	if err != nil {
		logging.Errorf("transport: readSlice failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "read failed"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// parseCharsQuery validates and parses the start/len query parameters.
// Non-finite values, start<0, len<=0, and len>maxChars are all
// rejected.
func parseCharsQuery(startRaw, lenRaw string) (start uint64, length int, ok bool) {
	startF, err := strconv.ParseFloat(startRaw, 64)
	if err != nil || math.IsNaN(startF) || math.IsInf(startF, 0) || startF < 0 {
		return 0, 0, false
	}

	lenF, err := strconv.ParseFloat(lenRaw, 64)
	if err != nil || math.IsNaN(lenF) || math.IsInf(lenF, 0) || lenF <= 0 || lenF > maxChars {
		return 0, 0, false
	}

	return uint64(startF), int(lenF), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("transport: encoding response failed: %v", err)
	}
}
