package service

import "what2eat/internal/common/logger"

type Service struct {
	NotificatorService NotificatorServiceInterface
}

func New(log *logger.Logger) *Service {
	return &Service{NotificatorService: NewNotificatorService(log)}
}
