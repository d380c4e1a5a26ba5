package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"what2eat/internal/common/logger"
	"what2eat/internal/microservices/push/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type StreamHandler struct {
	service service.PushServiceInterface
	log     *logger.Logger
	opts    StreamOptions
}

func NewStreamHandler(svc service.PushServiceInterface, log *logger.Logger, opts StreamOptions) *StreamHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Base == nil {
		opts.Base = context.Background()
	}
	return &StreamHandler{service: svc, log: log, opts: opts}
}

// Stream upgrades to a websocket and sends one JSON text frame per feed event.
// Clients resume with ?since=<last seq seen>.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
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
	groupID := r.PathValue("group_id")

	// Subscribe before upgrading so membership errors are still plain HTTP.
	ctx, cancel := context.WithCancel(h.opts.Base)
	defer cancel()
	sub, err := h.service.Subscribe(ctx, user, groupID, since)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.FromContext(r.Context()).Error("ws_upgrade_failed", err, map[string]any{"group_id": groupID})
		return
	}
	defer conn.Close()
	glog.V(2).Infof("[stream]open user=%s group=%s since=%d", user.ID, groupID, since)

	// Reader: client frames only tell us the peer went away.
	go func() {
		defer cancel()
		conn.SetReadLimit(1 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				glog.V(2).Infof("[stream]read end user=%s group=%s: %v", user.ID, groupID, err)
				return
			}
		}
	}()

	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// subscription ended with the base context
				closeNormal(conn)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				glog.V(2).Infof("[stream]write failed user=%s group=%s seq=%d: %v", user.ID, groupID, ev.Seq, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			closeNormal(conn)
			glog.V(2).Infof("[stream]close user=%s group=%s cursor=%d", user.ID, groupID, sub.Cursor())
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
