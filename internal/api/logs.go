package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atimmer/devservers/pkg/logging"
)

const (
	defaultCaptureLines = 200
	streamInterval      = time.Second
)

// logsQuery parses the shared ?lines=N&ansi=0|1 query parameters (spec.md
// §6).
func logsQuery(r *http.Request) (lines int, ansi bool) {
	lines = defaultCaptureLines
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	ansi = r.URL.Query().Get("ansi") == "1"
	return lines, ansi
}

// handleGetLogs implements the supplemented plain-capture endpoint
// (SPEC_FULL.md §C.1): a synchronous snapshot for clients that don't need
// live tailing. A WebSocket upgrade request on the same path is handed to
// handleLogsWS.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleLogsWS(w, r)
		return
	}
	name := chi.URLParam(r, "name")
	lines, ansi := logsQuery(r)

	snapshot, err := s.orch.CapturePane(r.Context(), name, lines, ansi)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payload": snapshot})
}

// logFrame is the WebSocket frame shape spec.md §6 specifies:
// `{ type: "logs", payload: "…" }`.
type logFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// handleLogsWS implements WS /services/:name/logs (spec.md §6): streams a
// captured pane snapshot every ~1s until the client disconnects. It is
// reached by a WebSocket upgrade of /services/:name/logs and also at
// /services/:name/logs/ws. Each
// connection carries a correlation id for log attribution, the same
// convention the teacher uses for its own request identifiers.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	lines, ansi := logsQuery(r)
	connID := uuid.NewString()

	if _, err := s.orch.CapturePane(r.Context(), name, lines, ansi); err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		logging.Warn("API", "websocket accept failed for %s (conn %s): %v", name, connID, err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := s.orch.CapturePane(ctx, name, lines, ansi)
			if err != nil {
				logging.Debug("API", "log stream %s (conn %s) stopping: %v", name, connID, err)
				return
			}
			if err := wsjson.Write(ctx, conn, logFrame{Type: "logs", Payload: snapshot}); err != nil {
				logging.Debug("API", "log stream %s (conn %s) write failed, closing: %v", name, connID, err)
				return
			}
		}
	}
}
