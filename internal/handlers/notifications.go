package handlers

import (
	"net/http"

	"marketplace/models"

	"github.com/go-chi/chi/v5"
)

// Notification (Уведомления)

func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, chi.URLParam(r, "userId"), "userId")
	if !ok {
		return
	}
	p := parsePaginationParams(r)
	notifications, err := h.Store.GetUserNotifications(r.Context(), userID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *Handler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, chi.URLParam(r, "userId"), "userId")
	if !ok {
		return
	}
	id, ok := pathInt(w, chi.URLParam(r, "notificationId"), "notificationId")
	if !ok {
		return
	}
	if err := h.Store.MarkNotificationRead(r.Context(), int64(id), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpsertPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, chi.URLParam(r, "userId"), "userId")
	if !ok {
		return
	}
	var pref models.NotificationPreference
	if !decodeJSON(w, r, &pref) {
		return
	}
	pref.UserID = userID
	if !h.checkRequest(w, &pref) {
		return
	}
	if err := h.Store.UpsertPreference(r.Context(), &pref); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// SetMuteHandler включает глобальный mute: in-app записи остаются,
// каналы доставки молчат
func (h *Handler) SetMuteHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, chi.URLParam(r, "userId"), "userId")
	if !ok {
		return
	}
	var req muteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Store.SetUserMuted(r.Context(), userID, req.Muted); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
