package service

import (
	"context"

	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/catalog"
)

type CartServiceInterface interface {
	GetCart(ctx context.Context, user domain.Identity) domain.CartResponse
	AddToCart(ctx context.Context, user domain.Identity, dishID string, qty int) (domain.CartResponse, error)
	SetQuantity(ctx context.Context, user domain.Identity, dishID string, qty int) (domain.CartResponse, error)
	RemoveFromCart(ctx context.Context, user domain.Identity, dishID string) domain.CartResponse
}

type CartService struct {
	carts   *cart.Registry
	catalog catalog.CatalogInterface
}

func NewCartService(carts *cart.Registry, cat catalog.CatalogInterface) CartServiceInterface {
	return &CartService{carts: carts, catalog: cat}
}

func view(c *cart.Cart) domain.CartResponse {
	lines := c.Snapshot()
	return domain.CartResponse{
		Lines: domain.NewLineMsgs(lines),
		Total: domain.SumLines(lines),
		Count: countLines(lines),
	}
}

func countLines(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Qty
	}
	return n
}

func (s *CartService) GetCart(_ context.Context, user domain.Identity) domain.CartResponse {
	return view(s.carts.For(user.ID))
}

// AddToCart resolves the dish through the catalog so clients cannot set prices.
func (s *CartService) AddToCart(ctx context.Context, user domain.Identity, dishID string, qty int) (domain.CartResponse, error) {
	if qty < 1 || qty > domain.MaxQuantity {
		return domain.CartResponse{}, domain.ErrInvalidQuantity
	}
	dish, err := s.catalog.Resolve(ctx, dishID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	c := s.carts.For(user.ID)
	if err := c.AddLine(dish, qty); err != nil {
		return domain.CartResponse{}, err
	}
	return view(c), nil
}

func (s *CartService) SetQuantity(_ context.Context, user domain.Identity, dishID string, qty int) (domain.CartResponse, error) {
	c := s.carts.For(user.ID)
	if err := c.SetQuantity(dishID, qty); err != nil {
		return domain.CartResponse{}, err
	}
	return view(c), nil
}

func (s *CartService) RemoveFromCart(_ context.Context, user domain.Identity, dishID string) domain.CartResponse {
	c := s.carts.For(user.ID)
	c.RemoveLine(dishID)
	return view(c)
}
