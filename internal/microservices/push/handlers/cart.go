package handlers

import (
	"net/http"

	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/service"
)

type CartHandler struct {
	service service.CartServiceInterface
	log     *logger.Logger
}

func NewCartHandler(svc service.CartServiceInterface, log *logger.Logger) *CartHandler {
	return &CartHandler{service: svc, log: log}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetCart(r.Context(), user))
}

func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req domain.AddLineRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}
	resp, err := h.service.AddToCart(r.Context(), user, req.DishID, qty)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req domain.SetQuantityRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Qty == nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", "qty is required")
		return
	}
	resp, err := h.service.SetQuantity(r.Context(), user, r.PathValue("dish_id"), *req.Qty)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	user, err := identity(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.RemoveFromCart(r.Context(), user, r.PathValue("dish_id")))
}
