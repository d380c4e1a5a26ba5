package service

import (
	"what2eat/internal/common/logger"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/catalog"
	"what2eat/internal/microservices/push/distribution"
	"what2eat/internal/microservices/push/factory"
	"what2eat/internal/microservices/push/feed"
	"what2eat/internal/microservices/push/membership"
)

type Deps struct {
	Carts   *cart.Registry
	Factory factory.FactoryInterface
	Feed    feed.FeedInterface
	Hub     distribution.HubInterface
	Members membership.MembershipInterface
	Catalog catalog.CatalogInterface
	Log     *logger.Logger
}

type Service struct {
	CartService CartServiceInterface
	PushService PushServiceInterface
}

func New(d Deps) *Service {
	return &Service{
		CartService: NewCartService(d.Carts, d.Catalog),
		PushService: NewPushService(d),
	}
}
