package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"what2eat/internal/common/config"
	"what2eat/internal/domain"
)

type CatalogInterface interface {
	Resolve(ctx context.Context, dishID string) (domain.DishRef, error)
}

type Static struct {
	dishes map[string]domain.DishRef
}

// NewStatic builds the catalog from config entries. Invalid prices or dishes fail fast.
func NewStatic(items []config.Dish) (CatalogInterface, error) {
	s := &Static{dishes: make(map[string]domain.DishRef, len(items))}
	for _, it := range items {
		price, err := domain.ParseAmount(it.Price)
		if err != nil {
			return nil, fmt.Errorf("dish %s: %w", it.ID, err)
		}
		d := domain.DishRef{ID: it.ID, Name: it.Name, Price: price, Image: it.Image}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("dish %s: %w", it.ID, err)
		}
		s.dishes[d.ID] = d
	}
	return s, nil
}

func (s *Static) Resolve(_ context.Context, dishID string) (domain.DishRef, error) {
	d, ok := s.dishes[dishID]
	if !ok {
		return domain.DishRef{}, domain.ErrUnknownDish
	}
	return d, nil
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) CatalogInterface {
	return &Postgres{pool: pool}
}

func (p *Postgres) Resolve(ctx context.Context, dishID string) (domain.DishRef, error) {
	var (
		d     domain.DishRef
		price int64
	)
	err := p.pool.QueryRow(ctx,
		`SELECT dish_id, name, price_minor, image FROM dishes WHERE dish_id=$1`, dishID,
	).Scan(&d.ID, &d.Name, &price, &d.Image)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DishRef{}, domain.ErrUnknownDish
	}
	if err != nil {
		return domain.DishRef{}, fmt.Errorf("failed to resolve dish: %w", err)
	}
	d.Price = domain.Amount(price)
	return d, nil
}
