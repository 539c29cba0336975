package channel

import (
	"encoding/json"
	"io"
	"net/http"

	"huddle/internal/config"
)

// handleGetConfig returns the running config with secrets masked.
func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	cfg := w.cfg
	w.cfgMu.RUnlock()

	if cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(cfg))
}

// handleUpdateConfig sets one dot-path value in memory, e.g.
// {"path": "orchestration.maxConsultedSpecialists", "value": 2}. Changes
// that fail validation are rolled back.
func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	if w.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var update struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &update); err != nil || update.Path == "" {
		writeError(rw, http.StatusBadRequest, `expected {"path": ..., "value": ...}`)
		return
	}

	previous := *w.cfg
	if err := config.SetByPath(w.cfg, update.Path, update.Value); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Validate(w.cfg); err != nil {
		*w.cfg = previous
		writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
		return
	}

	w.logger.Info("config updated via path", "path", update.Path)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated", "path": update.Path})
}

// handleSaveConfig writes the running config to disk.
func (w *Web) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	cfg := w.cfg
	cfgPath := w.cfgPath
	w.cfgMu.RUnlock()

	if cfg == nil || cfgPath == "" {
		writeError(rw, http.StatusServiceUnavailable, "config not available")
		return
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
		return
	}

	w.logger.Info("config saved to disk", "path", cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": cfgPath})
}
