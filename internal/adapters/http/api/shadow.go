// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/headwindml/headwind/internal/shadow"
)

// ShadowProvider exposes the shadow monitor's latest snapshot.
type ShadowProvider interface {
	ShadowReport() shadow.Report
}

// ShadowHandler handles shadow monitor requests.
type ShadowHandler struct {
	deps ShadowProvider
}

// NewShadowHandler creates a new shadow handler.
func NewShadowHandler(deps ShadowProvider) *ShadowHandler {
	return &ShadowHandler{deps: deps}
}

// HandleGetShadow handles GET /api/shadow requests.
func (h *ShadowHandler) HandleGetShadow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.ShadowReport())
}
