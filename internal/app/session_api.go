package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/facechat/internal/conversation"
)

// SessionInfo is the JSON view of the conversation session.
type SessionInfo struct {
	SessionID     string `json:"session_id,omitempty"`
	State         string `json:"state"`
	Running       bool   `json:"running"`
	Authenticated bool   `json:"authenticated"`
	HostConnected bool   `json:"host_connected"`

	// Error is the cause that ended the last session, if any.
	Error string `json:"error,omitempty"`
}

// registerSessionAPI mounts the session control routes. They mirror the
// start/stop buttons of the device host page for operators and scripts.
func (a *App) registerSessionAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", a.handleSessionInfo)
	mux.HandleFunc("POST /api/session/start", a.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", a.handleSessionStop)
}

// Session returns a snapshot of the conversation session.
func (a *App) Session() SessionInfo {
	info := SessionInfo{
		SessionID:     a.orch.SessionID(),
		State:         a.orch.State().String(),
		Running:       a.orch.Running(),
		Authenticated: a.orch.Authenticated(),
		HostConnected: a.bridge.Connected(),
	}
	if err := a.orch.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

func (a *App) handleSessionInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Session())
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !a.bridge.Connected() {
		writeError(w, http.StatusConflict, "no device host connected")
		return
	}
	// The session outlives this request.
	if err := a.orch.Start(a.sessionCtx); err != nil {
		if errors.Is(err, conversation.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("session start failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("session started over http", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, a.Session())
}

func (a *App) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	a.orch.Stop()
	writeJSON(w, http.StatusOK, a.Session())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
