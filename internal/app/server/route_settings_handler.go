package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"cidrbans/internal/config"
)

func getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := newConfig.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(newConfig); err != nil {
		log.Error("Failed to save settings", "error", err)
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, config.GetConfig())
}
