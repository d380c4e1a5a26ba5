package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"what2eat/internal/common/config"
	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/catalog"
	"what2eat/internal/microservices/push/distribution"
	"what2eat/internal/microservices/push/factory"
	"what2eat/internal/microservices/push/feed"
	"what2eat/internal/microservices/push/membership"
	"what2eat/internal/microservices/push/repository"
)

var (
	alice = domain.Identity{ID: "alice", DisplayName: "Alice", AvatarRef: "a.png"}
	bob   = domain.Identity{ID: "bob", DisplayName: "Bob"}
	carol = domain.Identity{ID: "carol", DisplayName: "Carol"}
)

func newService(t *testing.T) *Service {
	t.Helper()
	log := logger.NewWithWriter("test", io.Discard, false)
	members := membership.NewStatic(map[string][]string{"family": {"alice", "bob"}})
	cat, err := catalog.NewStatic([]config.Dish{
		{ID: "tofu", Name: "Mapo Tofu", Price: "30"},
		{ID: "rice", Name: "Rice", Price: "15.00"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	repo := repository.NewMemoryRepository()
	f := feed.New(repo, members, log)
	hub := distribution.NewHub(f, distribution.Options{Buffer: 16}, log, nil)
	f.AddPublisher(hub)
	return New(Deps{
		Carts:   cart.NewRegistry(),
		Factory: factory.New(),
		Feed:    f,
		Hub:     hub,
		Members: members,
		Catalog: cat,
		Log:     log,
	})
}

func TestCartOperations(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.CartService.AddToCart(ctx, alice, "tofu", 2)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Count, 2)

	c, err = s.CartService.AddToCart(ctx, alice, "rice", 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Total.String(), "75.00")

	_, err = s.CartService.AddToCart(ctx, alice, "pizza", 1)
	assert.Equal(t, errors.Is(err, domain.ErrUnknownDish), true)
	_, err = s.CartService.AddToCart(ctx, alice, "tofu", 0)
	assert.Equal(t, errors.Is(err, domain.ErrInvalidQuantity), true)
	_, err = s.CartService.AddToCart(ctx, alice, "tofu", domain.MaxQuantity)
	assert.Equal(t, errors.Is(err, domain.ErrInvalidQuantity), true)
	assert.Equal(t, s.CartService.GetCart(ctx, alice).Count, 3)

	c, err = s.CartService.SetQuantity(ctx, alice, "tofu", 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Total.String(), "45.00")

	c = s.CartService.RemoveFromCart(ctx, alice, "rice")
	assert.Equal(t, len(c.Lines), 1)

	// carts are per user
	assert.Equal(t, len(s.CartService.GetCart(ctx, bob).Lines), 0)
}

func TestPushScenario(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, _ = s.CartService.AddToCart(ctx, alice, "tofu", 2)
	_, _ = s.CartService.AddToCart(ctx, alice, "rice", 1)

	entry, err := s.PushService.Push(ctx, alice, "family")
	assert.Equal(t, err, nil)
	assert.Equal(t, entry.Seq, uint64(1))
	assert.Equal(t, entry.Record.Total.String(), "75.00")
	assert.Equal(t, entry.Record.Pusher, alice)
	assert.Equal(t, s.CartService.GetCart(ctx, alice).Count, 0)

	page, err := s.PushService.ListPushes(ctx, bob, "family", 0, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(page.Pushes), 1)
	assert.Equal(t, page.NextCursor, uint64(1))

	err = s.PushService.DeletePush(ctx, bob, "family", entry.Record.ID)
	assert.Equal(t, errors.Is(err, domain.ErrForbidden), true)

	assert.Equal(t, s.PushService.DeletePush(ctx, alice, "family", entry.Record.ID), nil)
	page, _ = s.PushService.ListPushes(ctx, bob, "family", 0, 10)
	assert.Equal(t, len(page.Pushes), 0)

	tl, err := s.PushService.Timeline(ctx, bob, "family", 0, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tl.Events), 2)
	assert.Equal(t, tl.NextCursor, uint64(2))
}

func TestPushByNonMemberKeepsCart(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, _ = s.CartService.AddToCart(ctx, carol, "tofu", 1)

	_, err := s.PushService.Push(ctx, carol, "family")
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
	assert.Equal(t, s.CartService.GetCart(ctx, carol).Count, 1)
}

func TestPushEmptyCart(t *testing.T) {
	s := newService(t)
	_, err := s.PushService.Push(context.Background(), alice, "family")
	assert.Equal(t, errors.Is(err, domain.ErrEmptyCart), true)
}

func TestReadsRequireMembership(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.PushService.ListPushes(ctx, carol, "family", 0, 10)
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
	_, err = s.PushService.Timeline(ctx, carol, "family", 0, 10)
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
	_, err = s.PushService.GetPush(ctx, carol, "family", "x")
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
	_, err = s.PushService.Subscribe(ctx, carol, "family", 0)
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
}

func TestSubscriberSeesPushAndDelete(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	sub, err := s.PushService.Subscribe(ctx, bob, "family", 0)
	assert.Equal(t, err, nil)
	defer sub.Close()

	_, _ = s.CartService.AddToCart(ctx, alice, "tofu", 1)
	entry, _ := s.PushService.Push(ctx, alice, "family")
	_ = s.PushService.DeletePush(ctx, alice, "family", entry.Record.ID)

	for _, want := range []domain.EventType{domain.EventAppend, domain.EventDelete} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, ev.EventType, want)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}

func TestListPushesPaging(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = s.CartService.AddToCart(ctx, alice, "tofu", 1)
		_, err := s.PushService.Push(ctx, alice, "family")
		assert.Equal(t, err, nil)
	}
	page, _ := s.PushService.ListPushes(ctx, alice, "family", 0, 2)
	assert.Equal(t, len(page.Pushes), 2)
	page, _ = s.PushService.ListPushes(ctx, alice, "family", page.NextCursor, 2)
	assert.Equal(t, page.Pushes[0].Seq, uint64(3))
	page, _ = s.PushService.ListPushes(ctx, alice, "family", 4, 10)
	assert.Equal(t, len(page.Pushes), 1)
	page, _ = s.PushService.ListPushes(ctx, alice, "family", 5, 10)
	assert.Equal(t, len(page.Pushes), 0)
	assert.Equal(t, page.NextCursor, uint64(5))
}
