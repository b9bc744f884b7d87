package app

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pumprelay/relay-server/internal/model"
	"pumprelay/relay-server/internal/protocol"
	"pumprelay/relay-server/internal/relay"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.Handle("/ws", a.ws)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/logs/export", a.handleExportLogs)
	mux.HandleFunc("/api/device/command", a.handleDeviceCommand)
	mux.HandleFunc("/api/admin/wipe", a.handleWipeLogs)
	mux.Handle("/", a.indexHandler(http.FileServer(http.Dir(a.cfg.StaticDir))))
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	// A missing log store degrades persistence but the relay still serves.
	storeState := "available"
	if !a.store.Available() {
		storeState = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "store": storeState})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		DeviceOnline   bool `json:"deviceOnline"`
		Connections    int  `json:"connections"`
		StoreAvailable bool `json:"storeAvailable"`
	}{
		DeviceOnline:   a.dispatcher.DeviceOnline(),
		Connections:    a.dispatcher.Registry().Len(),
		StoreAvailable: a.store.Available(),
	})
}

// queryLogs parses startDate/endDate from the query string and runs the
// same lookup as the getLogs message.
func (a *App) queryLogs(w http.ResponseWriter, r *http.Request) ([]model.LogEntry, bool) {
	q := r.URL.Query()
	rng, err := model.ParseDateRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		http.Error(w, relay.MsgInvalidDateRange, http.StatusBadRequest)
		return nil, false
	}
	if relay.LogsPolicy(a.cfg.LogsPolicy) == relay.LogsStrict && !rng.Complete() {
		http.Error(w, relay.MsgDateRangeRequired, http.StatusBadRequest)
		return nil, false
	}

	entries, err := a.dispatcher.FindLogs(r.Context(), rng)
	if err != nil {
		http.Error(w, relay.MsgFetchLogsFailed, http.StatusInternalServerError)
		return nil, false
	}
	return entries, true
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, ok := a.queryLogs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Logs []model.LogEntry `json:"logs"`
	}{Logs: entries})
}

func (a *App) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, ok := a.queryLogs(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=pumprelay_logs.csv")

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	if err := csvWriter.Write([]string{"timestamp", "mac", "on_time", "off_time", "duration", "id"}); err != nil {
		a.logger.Error("export: failed to write header", "error", err)
		return
	}

	for _, e := range entries {
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.MAC,
			e.OnTime,
			e.OffTime,
			e.Duration,
			e.ID,
		}
		if err := csvWriter.Write(row); err != nil {
			a.logger.Error("export: failed to write row", "error", err)
			return
		}
	}

	if err := csvWriter.Error(); err != nil {
		a.logger.Error("export: writer error", "error", err)
	}
}

func (a *App) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Command string          `json:"command"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		http.Error(w, "command required", http.StatusBadRequest)
		return
	}

	err := a.dispatcher.ForwardToDevice(protocol.CommandValueFrame(command, req.Value))
	switch {
	case errors.Is(err, relay.ErrDeviceOffline):
		http.Error(w, relay.MsgDeviceOffline, http.StatusServiceUnavailable)
		return
	case err != nil:
		a.logger.Warn("http command not delivered", "command", command, "error", err)
		http.Error(w, relay.MsgDeviceDisconnected, http.StatusServiceUnavailable)
		return
	}

	a.logger.Info("http command forwarded", "command", command)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "forwarded"})
}

func (a *App) handleWipeLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if strings.ToLower(strings.TrimSpace(body.Confirm)) != "wipe" {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}

	deleted, err := a.dispatcher.DeleteLogs(r.Context(), model.DateRange{})
	if err != nil {
		http.Error(w, relay.MsgDeleteLogsFailed, http.StatusInternalServerError)
		return
	}

	a.logger.Warn("wipe: all duty cycle logs cleared", "count", deleted)
	writeJSON(w, http.StatusOK, map[string]int64{"deletedCount": deleted})
}

// indexHandler serves the dashboard files and accepts WebSocket upgrades on
// the root path, where the device agent connects.
func (a *App) indexHandler(files http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			a.ws.ServeHTTP(w, r)
			return
		}
		files.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
