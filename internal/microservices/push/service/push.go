package service

import (
	"context"
	"errors"

	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/distribution"
	"what2eat/internal/microservices/push/factory"
	"what2eat/internal/microservices/push/feed"
	"what2eat/internal/microservices/push/membership"
	"what2eat/internal/microservices/push/repository"
)

type PushServiceInterface interface {
	Push(ctx context.Context, user domain.Identity, groupID string) (domain.FeedEntry, error)
	DeletePush(ctx context.Context, user domain.Identity, groupID, pushID string) error
	GetPush(ctx context.Context, user domain.Identity, groupID, pushID string) (domain.FeedEntry, error)
	ListPushes(ctx context.Context, user domain.Identity, groupID string, cursor uint64, limit int) (domain.PushPage, error)
	Timeline(ctx context.Context, user domain.Identity, groupID string, cursor uint64, limit int) (domain.EventPage, error)
	Subscribe(ctx context.Context, user domain.Identity, groupID string, cursor uint64) (*distribution.Subscription, error)
}

type PushService struct {
	carts   *cart.Registry
	factory factory.FactoryInterface
	feed    feed.FeedInterface
	hub     distribution.HubInterface
	members membership.MembershipInterface
	log     *logger.Logger
}

func NewPushService(d Deps) PushServiceInterface {
	return &PushService{
		carts:   d.Carts,
		factory: d.Factory,
		feed:    d.Feed,
		hub:     d.Hub,
		members: d.Members,
		log:     d.Log,
	}
}

func (s *PushService) requireMember(ctx context.Context, groupID, userID string) error {
	ok, err := s.members.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotAMember
	}
	return nil
}

// Push turns the caller's cart into a record on the group's feed. The cart is
// cleared only once the feed has accepted the record.
func (s *PushService) Push(ctx context.Context, user domain.Identity, groupID string) (domain.FeedEntry, error) {
	// 1. Membership first, so a stranger's cart is never frozen
	if err := s.requireMember(ctx, groupID, user.ID); err != nil {
		return domain.FeedEntry{}, err
	}

	// 2. Freeze, append, clear
	var entry domain.FeedEntry
	_, err := s.factory.CreatePushWith(s.carts.For(user.ID), user, func(rec domain.PushRecord) error {
		var err error
		entry, _, err = s.feed.Append(ctx, groupID, rec)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrEmptyCart) {
			s.log.FromContext(ctx).Error("push_failed", err, map[string]any{"group_id": groupID, "user_id": user.ID})
		}
		return domain.FeedEntry{}, err
	}
	return entry, nil
}

func (s *PushService) DeletePush(ctx context.Context, user domain.Identity, groupID, pushID string) error {
	return s.feed.Delete(ctx, groupID, pushID, user.ID)
}

func (s *PushService) GetPush(ctx context.Context, user domain.Identity, groupID, pushID string) (domain.FeedEntry, error) {
	if err := s.requireMember(ctx, groupID, user.ID); err != nil {
		return domain.FeedEntry{}, err
	}
	return s.feed.Get(ctx, groupID, pushID)
}

func (s *PushService) ListPushes(ctx context.Context, user domain.Identity, groupID string, cursor uint64, limit int) (domain.PushPage, error) {
	if err := s.requireMember(ctx, groupID, user.ID); err != nil {
		return domain.PushPage{}, err
	}
	if limit <= 0 || limit > 1000 {
		limit = repository.DefaultPageSize
	}
	page := domain.PushPage{GroupID: groupID, Pushes: []domain.EntryMsg{}, NextCursor: cursor}
	for e, err := range s.feed.ListSince(ctx, groupID, cursor) {
		if err != nil {
			return domain.PushPage{}, err
		}
		page.Pushes = append(page.Pushes, domain.EntryMsg{Seq: e.Seq, Record: domain.NewRecordMsg(e.Record)})
		page.NextCursor = e.Seq
		if len(page.Pushes) == limit {
			break
		}
	}
	return page, nil
}

func (s *PushService) Timeline(ctx context.Context, user domain.Identity, groupID string, cursor uint64, limit int) (domain.EventPage, error) {
	if err := s.requireMember(ctx, groupID, user.ID); err != nil {
		return domain.EventPage{}, err
	}
	evs, err := s.feed.EventsSince(ctx, groupID, cursor, limit)
	if err != nil {
		return domain.EventPage{}, err
	}
	page := domain.EventPage{GroupID: groupID, Events: evs, NextCursor: cursor}
	if page.Events == nil {
		page.Events = []domain.FeedEvent{}
	}
	if n := len(evs); n > 0 {
		page.NextCursor = evs[n-1].Seq
	}
	return page, nil
}

func (s *PushService) Subscribe(ctx context.Context, user domain.Identity, groupID string, cursor uint64) (*distribution.Subscription, error) {
	if err := s.requireMember(ctx, groupID, user.ID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, groupID, cursor), nil
}
