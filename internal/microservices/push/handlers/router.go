package handlers

import (
	"net/http"

	"what2eat/internal/common/auth"
	"what2eat/internal/common/httpx"
	"what2eat/internal/common/metrics"
)

// Router wires every route. Everything under /api/v1 requires a bearer token.
func Router(h *Handler, v *auth.Verifier, m *metrics.Registry, maxConcurrent int) http.Handler {
	mux := http.NewServeMux()
	authed := v.Middleware(func(w http.ResponseWriter, r *http.Request, err error) { writeError(w, r, nil, err) })
	handle := func(pattern string, fn http.HandlerFunc) { mux.Handle(pattern, authed(fn)) }

	handle("GET /api/v1/cart", h.CartHandler.GetCart)
	handle("POST /api/v1/cart/lines", h.CartHandler.AddLine)
	handle("PUT /api/v1/cart/lines/{dish_id}", h.CartHandler.SetQuantity)
	handle("DELETE /api/v1/cart/lines/{dish_id}", h.CartHandler.RemoveLine)

	handle("POST /api/v1/groups/{group_id}/pushes", h.PushHandler.Push)
	handle("GET /api/v1/groups/{group_id}/pushes", h.PushHandler.List)
	handle("GET /api/v1/groups/{group_id}/pushes/{push_id}", h.PushHandler.Get)
	handle("DELETE /api/v1/groups/{group_id}/pushes/{push_id}", h.PushHandler.Delete)
	handle("GET /api/v1/groups/{group_id}/events", h.PushHandler.Timeline)
	handle("GET /api/v1/groups/{group_id}/stream", h.StreamHandler.Stream)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return httpx.RequestID(httpx.Limit(maxConcurrent, mux, "/stream"))
}
