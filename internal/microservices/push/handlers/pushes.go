package handlers

import (
	"net/http"

	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/service"
)

type PushHandler struct {
	service service.PushServiceInterface
	log     *logger.Logger
}

func NewPushHandler(svc service.PushServiceInterface, log *logger.Logger) *PushHandler {
	return &PushHandler{service: svc, log: log}
}

func (h *PushHandler) Push(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	entry, err := h.service.Push(r.Context(), user, r.PathValue("group_id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.EntryMsg{Seq: entry.Seq, Record: domain.NewRecordMsg(entry.Record)})
}

func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	since, err := cursorParam(r, "since")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	page, err := h.service.ListPushes(r.Context(), user, r.PathValue("group_id"), since, limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *PushHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	entry, err := h.service.GetPush(r.Context(), user, r.PathValue("group_id"), r.PathValue("push_id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.EntryMsg{Seq: entry.Seq, Record: domain.NewRecordMsg(entry.Record)})
}

func (h *PushHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if err := h.service.DeletePush(r.Context(), user, r.PathValue("group_id"), r.PathValue("push_id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Timeline lists appends and deletes after ?since=, the same events the stream sends.
func (h *PushHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	since, err := cursorParam(r, "since")
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	page, err := h.service.Timeline(r.Context(), user, r.PathValue("group_id"), since, limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
