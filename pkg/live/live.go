// Package live exposes the session pipeline over websockets and
// HTTP. Clients stream audio frames and receive pipeline events on
// the same connection; chunk upload and status polling are also
// available over plain HTTP.
package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eduscribe/eduscribe/pkg/corpus"
	"github.com/eduscribe/eduscribe/pkg/jsontime"
	"github.com/eduscribe/eduscribe/pkg/pipeline"
)

const (
	writeTimeout = 10 * time.Second

	// maxUploadBytes bounds a single HTTP audio chunk or document.
	maxUploadBytes = 16 << 20
)

// Command is a client-to-server control message on the websocket.
type Command struct {
	Type string `json:"type"`
}

// Command types accepted on the websocket.
const (
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
)

// Handler serves the live session endpoints.
type Handler struct {
	manager  *pipeline.Manager
	corpus   *corpus.Store
	upgrader websocket.Upgrader
}

// NewHandler creates a handler over manager. store may be nil to
// disable document ingestion.
func NewHandler(manager *pipeline.Manager, store *corpus.Store) *Handler {
	return &Handler{
		manager: manager,
		corpus:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{session}", h.handleWS)
	mux.HandleFunc("POST /sessions/{session}/audio", h.handleAudio)
	mux.HandleFunc("GET /sessions/{session}/status", h.handleStatus)
	mux.HandleFunc("POST /lectures/{session}/documents", h.handleIngest)
}

// wsSink pushes pipeline events to one websocket connection. Writes
// are serialized; a failed write only logs, the pipeline never
// blocks on a slow client.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSink) Send(ev pipeline.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteJSON(ev); err != nil {
		slog.Warn("live: event write failed", "session", ev.SessionID, "type", ev.Type, "err", err)
	}
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live: upgrade failed", "session", sessionID, "err", err)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	sess := h.manager.Open(sessionID, sink)
	defer func() {
		// Only tear down if a reconnect has not already replaced us.
		if cur, err := h.manager.Get(sessionID); err == nil && cur == sess {
			h.manager.CloseSession(sessionID)
		}
	}()

	sink.Send(pipeline.Event{
		Type:      pipeline.EventConnectionConfirmed,
		At:        jsontime.Now(),
		SessionID: sessionID,
		Message:   "session ready",
	})

	slog.Info("live: client connected", "session", sessionID, "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("live: read failed", "session", sessionID, "err", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.EnqueueAudio(data); err != nil {
				h.sendError(sink, sessionID, err)
			}
		case websocket.TextMessage:
			h.handleCommand(sink, sess, sessionID, data)
		}
	}
}

func (h *Handler) handleCommand(sink *wsSink, sess *pipeline.Session, sessionID string, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendError(sink, sessionID, fmt.Errorf("malformed command: %w", err))
		return
	}
	switch cmd.Type {
	case CmdStartRecording:
		sess.StartRecording()
	case CmdStopRecording:
		sess.StopRecording()
	default:
		h.sendError(sink, sessionID, fmt.Errorf("unknown command %q", cmd.Type))
	}
}

func (h *Handler) sendError(sink *wsSink, sessionID string, err error) {
	sink.Send(pipeline.Event{
		Type:      "error",
		At:        jsontime.Now(),
		SessionID: sessionID,
		Error:     err.Error(),
	})
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty chunk", http.StatusBadRequest)
		return
	}
	if err := sess.EnqueueAudio(data); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotRecording):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.corpus == nil {
		http.Error(w, "document ingestion disabled", http.StatusNotImplemented)
		return
	}
	lectureID := r.PathValue("session")
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		http.Error(w, "empty document", http.StatusBadRequest)
		return
	}
	n, err := h.corpus.Ingest(r.Context(), lectureID, source, string(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lecture_id": lectureID,
		"source":     source,
		"chunks":     n,
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	sessionID := r.PathValue("session")
	sess, err := h.manager.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("live: response write failed", "err", err)
	}
}
