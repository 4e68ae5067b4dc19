package handler

import (
	"net/http"

	"github.com/edvin/revive/internal/api/request"
	"github.com/edvin/revive/internal/api/response"
	"github.com/edvin/revive/internal/core"
	"github.com/edvin/revive/internal/policy"
)

// Legacy serves the address-keyed routes used by the original single page
// dashboard. Every toggle resolves the address to a device through the
// registry and then goes through the same policy path as the v1 routes.
type Legacy struct {
	devices   *core.DeviceService
	dashboard *core.DashboardService
}

func NewLegacy(devices *core.DeviceService, dashboard *core.DashboardService) *Legacy {
	return &Legacy{devices: devices, dashboard: dashboard}
}

type legacyStats struct {
	AdsBlockedToday   int64   `json:"ads_blocked_today"`
	DNSQueriesToday   int64   `json:"dns_queries_today"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

type legacyClient struct {
	Name              string   `json:"name"`
	IP                string   `json:"ip"`
	MAC               string   `json:"mac"`
	BlockedServices   []string `json:"blocked_services"`
	SafeSearchEnabled bool     `json:"safesearch_enabled"`
	BedtimeEnabled    bool     `json:"bedtime_enabled"`
	Applied           bool     `json:"applied"`
}

func (h *Legacy) Stats(w http.ResponseWriter, r *http.Request) {
	st := h.dashboard.Stats(r.Context())
	response.WriteJSON(w, http.StatusOK, legacyStats{
		AdsBlockedToday:   st.BlockedToday,
		DNSQueriesToday:   st.QueriesToday,
		AvgProcessingTime: st.AvgProcessingMS,
	})
}

// Clients lists the devices currently on the network.
func (h *Legacy) Clients(w http.ResponseWriter, r *http.Request) {
	clients := []legacyClient{}
	for _, v := range h.devices.List(r.Context()) {
		if v.Device.Address == "" {
			continue
		}
		services := v.Effective.BlockedServices
		if services == nil {
			services = []string{}
		}
		clients = append(clients, legacyClient{
			Name:              v.Device.DisplayName,
			IP:                v.Device.Address,
			MAC:               v.Device.MAC,
			BlockedServices:   services,
			SafeSearchEnabled: v.Policy.SafeSearch,
			BedtimeEnabled:    v.Effective.FullBlock,
			Applied:           v.Status.Applied,
		})
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (h *Legacy) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	var req request.ToggleBlock
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, req.IP, policy.SetCategory(req.Category, *req.Enabled))
}

func (h *Legacy) ToggleSafeSearch(w http.ResponseWriter, r *http.Request) {
	var req request.ToggleIP
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, req.IP, policy.SetSafeSearch(*req.Enabled))
}

// ToggleBedtime maps the dashboard's bedtime switch onto the manual
// override; scheduled windows are managed through the v1 routes.
func (h *Legacy) ToggleBedtime(w http.ResponseWriter, r *http.Request) {
	var req request.ToggleIP
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.apply(w, r, req.IP, policy.SetOverride(*req.Enabled))
}

func (h *Legacy) apply(w http.ResponseWriter, r *http.Request, ip string, m policy.Mutation) {
	d, err := h.devices.ByAddress(r.Context(), ip)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	view, err := h.devices.Update(r.Context(), d.MAC, m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"pending": view.Status.Pending,
	})
}
