package membership

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MembershipInterface interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Static answers from a fixed group -> members table loaded from config.
type Static struct {
	groups map[string]map[string]struct{}
}

func NewStatic(groups map[string][]string) MembershipInterface {
	s := &Static{groups: make(map[string]map[string]struct{}, len(groups))}
	for g, users := range groups {
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		s.groups[g] = set
	}
	return s
}

func (s *Static) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	_, ok := s.groups[groupID][userID]
	return ok, nil
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) MembershipInterface {
	return &Postgres{pool: pool}
}

func (p *Postgres) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`,
		groupID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}
