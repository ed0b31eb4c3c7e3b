package api

import (
	"net/http"
)

// ClientConfig is what the browser needs to build the map before opening
// its session.
type ClientConfig struct {
	AccessToken    string     `json:"accessToken"`
	StyleURL       string     `json:"style"`
	Center         [2]float64 `json:"center"`
	Zoom           float64    `json:"zoom"`
	MaxZoom        float64    `json:"maxZoom"`
	DataURL        string     `json:"dataUrl"`
	SessionPath    string     `json:"sessionPath"`
	ClusterRadius  int        `json:"clusterRadius"`
	ClusterMaxZoom int        `json:"clusterMaxZoom"`
}

// ConfigHandler serves the client bootstrap settings.
type ConfigHandler struct {
	client ClientConfig
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(client ClientConfig) *ConfigHandler {
	if client.SessionPath == "" {
		client.SessionPath = "/ws"
	}
	return &ConfigHandler{client: client}
}

// HandleConfig handles GET /api/config requests.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.client)
}
