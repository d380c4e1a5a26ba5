package handlers

import (
	"context"
	"time"

	"what2eat/internal/common/logger"
	"what2eat/internal/microservices/push/service"
)

type Handler struct {
	CartHandler   *CartHandler
	PushHandler   *PushHandler
	StreamHandler *StreamHandler
}

type StreamOptions struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// Base ends every open stream when cancelled; hijacked connections are not
	// covered by http.Server.Shutdown.
	Base context.Context
}

func New(s *service.Service, log *logger.Logger, opts StreamOptions) *Handler {
	return &Handler{
		CartHandler:   NewCartHandler(s.CartService, log),
		PushHandler:   NewPushHandler(s.PushService, log),
		StreamHandler: NewStreamHandler(s.PushService, log, opts),
	}
}
