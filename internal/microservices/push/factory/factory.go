package factory

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/cart"
)

type Clock interface{ Now() time.Time }

type IDGenerator interface{ NewID() string }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// ulidGen yields lexically sortable, time-derived ids.
type ulidGen struct{}

func (ulidGen) NewID() string { return ulid.Make().String() }

type FactoryInterface interface {
	CreatePush(c cart.CartInterface, pusher domain.Identity) (domain.PushRecord, error)
	CreatePushWith(c cart.CartInterface, pusher domain.Identity, commit func(domain.PushRecord) error) (domain.PushRecord, error)
}

type Factory struct {
	clock Clock
	ids   IDGenerator
}

type Option func(*Factory)

func WithClock(c Clock) Option { return func(f *Factory) { f.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(f *Factory) { f.ids = g } }

func New(opts ...Option) FactoryInterface {
	f := &Factory{clock: utcClock{}, ids: ulidGen{}}
	for _, o := range opts {
		o(f)
	}
	return f
}

// CreatePush freezes the cart into a record and clears it. It does not touch any feed.
func (f *Factory) CreatePush(c cart.CartInterface, pusher domain.Identity) (domain.PushRecord, error) {
	return f.CreatePushWith(c, pusher, nil)
}

// CreatePushWith runs commit with the new record before the cart is cleared; if commit
// fails the cart keeps its lines and the error is returned.
func (f *Factory) CreatePushWith(c cart.CartInterface, pusher domain.Identity, commit func(domain.PushRecord) error) (domain.PushRecord, error) {
	var rec domain.PushRecord
	err := c.Checkout(func(lines []domain.CartLine) error {
		rec = domain.PushRecord{
			ID:        f.ids.NewID(),
			Pusher:    pusher,
			Lines:     lines,
			Total:     domain.SumLines(lines),
			CreatedAt: f.clock.Now(),
		}
		if commit == nil {
			return nil
		}
		if err := commit(rec.Clone()); err != nil {
			return fmt.Errorf("commit push %s: %w", rec.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.PushRecord{}, err
	}
	return rec, nil
}
