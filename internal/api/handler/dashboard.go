package handler

import (
	"net/http"

	"github.com/edvin/revive/internal/api/response"
	"github.com/edvin/revive/internal/core"
)

type Dashboard struct {
	svc     *core.DashboardService
	devices *core.DeviceService
}

func NewDashboard(svc *core.DashboardService, devices *core.DeviceService) *Dashboard {
	return &Dashboard{svc: svc, devices: devices}
}

func (h *Dashboard) Stats(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.svc.Stats(r.Context()))
}

// Categories lists the blockable categories of the active catalog.
func (h *Dashboard) Categories(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"version":    h.devices.CatalogVersion(),
		"categories": h.devices.Categories(),
	})
}
