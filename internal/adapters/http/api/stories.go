package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/storymap/internal/domain/dataset"
)

// StoriesDependencies defines the read operations over the dataset.
type StoriesDependencies interface {
	Years(ctx context.Context) ([]string, error)
	Stories(ctx context.Context, year string) (*dataset.Collection, error)
}

// StoriesHandler serves the dataset and its year set.
type StoriesHandler struct {
	deps StoriesDependencies
}

// NewStoriesHandler creates a new stories handler.
func NewStoriesHandler(deps StoriesDependencies) *StoriesHandler {
	return &StoriesHandler{deps: deps}
}

type yearsResponse struct {
	Years []string `json:"years"`
}

// HandleStories handles GET /data/stories.geojson[?year=Y] requests.
func (h *StoriesHandler) HandleStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	year := strings.TrimSpace(r.URL.Query().Get("year"))
	if len(year) > 64 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: year too long", ErrBadRequest))
		return
	}

	c, err := h.deps.Stories(r.Context(), year)
	if err != nil {
		writeDatasetError(w, err)
		return
	}

	body, err := json.Marshal(c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleYears handles GET /api/years requests.
func (h *StoriesHandler) HandleYears(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	years, err := h.deps.Years(r.Context())
	if err != nil {
		writeDatasetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, yearsResponse{Years: years})
}
