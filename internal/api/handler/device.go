package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/revive/internal/api/request"
	"github.com/edvin/revive/internal/api/response"
	"github.com/edvin/revive/internal/core"
	"github.com/edvin/revive/internal/policy"
)

type Device struct {
	svc *core.DeviceService
}

func NewDevice(svc *core.DeviceService) *Device {
	return &Device{svc: svc}
}

func (h *Device) List(w http.ResponseWriter, r *http.Request) {
	views := h.svc.List(r.Context())
	response.WriteList(w, http.StatusOK, views, len(views))
}

func (h *Device) Get(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Get(r.Context(), mac)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

func (h *Device) Rename(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	var req request.Rename
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.svc.Rename(r.Context(), mac, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

func (h *Device) SetSocialMedia(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, policy.SetSocialMedia)
}

func (h *Device) SetSafeSearch(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, policy.SetSafeSearch)
}

// SetOverride forces a full block regardless of the bedtime window.
func (h *Device) SetOverride(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, policy.SetOverride)
}

func (h *Device) SetCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	h.setFlag(w, r, func(enabled bool) policy.Mutation {
		return policy.SetCategory(category, enabled)
	})
}

func (h *Device) SetBedtime(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	var req request.Bedtime
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := req.Window()
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.update(w, r, mac, policy.SetBedtime(window))
}

func (h *Device) ClearBedtime(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	h.update(w, r, mac, policy.ClearBedtime())
}

// Reconcile re-queues the device's effective policy for convergence.
func (h *Device) Reconcile(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Reconcile(r.Context(), mac)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, view)
}

func (h *Device) Delete(w http.ResponseWriter, r *http.Request) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Remove(r.Context(), mac); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteNoContent(w)
}

func (h *Device) setFlag(w http.ResponseWriter, r *http.Request, mutation func(bool) policy.Mutation) {
	mac, ok := macParam(w, r)
	if !ok {
		return
	}
	var req request.SetFlag
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.update(w, r, mac, mutation(*req.Enabled))
}

func (h *Device) update(w http.ResponseWriter, r *http.Request, mac string, mutations ...policy.Mutation) {
	view, err := h.svc.Update(r.Context(), mac, mutations...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}
