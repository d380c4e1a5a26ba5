package cart

import (
	"sync"

	"what2eat/internal/domain"
)

type CartInterface interface {
	AddLine(dish domain.DishRef, qty int) error
	SetQuantity(dishID string, qty int) error
	RemoveLine(dishID string)
	Snapshot() []domain.CartLine
	Clear()
	Total() domain.Amount
	Count() int
	Checkout(fn func(lines []domain.CartLine) error) error
}

// Cart is one user's working selection. Lines keep insertion order and hold
// at most one line per dish id.
type Cart struct {
	mu    sync.Mutex
	lines []domain.CartLine
}

func New() *Cart { return &Cart{} }

func (c *Cart) indexOf(dishID string) int {
	for i := range c.lines {
		if c.lines[i].Dish.ID == dishID {
			return i
		}
	}
	return -1
}

// AddLine increments the line for dish by qty, appending a new line if the dish
// is not in the cart yet. The stored DishRef is the one from the first add. A
// line never grows past domain.MaxQuantity; such an add leaves the cart as is.
func (c *Cart) AddLine(dish domain.DishRef, qty int) error {
	if qty < 1 || qty > domain.MaxQuantity {
		return domain.ErrInvalidQuantity
	}
	if err := dish.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(dish.ID); i >= 0 {
		if c.lines[i].Qty > domain.MaxQuantity-qty {
			return domain.ErrInvalidQuantity
		}
		c.lines[i].Qty += qty
		return nil
	}
	c.lines = append(c.lines, domain.CartLine{Dish: dish, Qty: qty})
	return nil
}

func (c *Cart) SetQuantity(dishID string, qty int) error {
	if qty < 0 || qty > domain.MaxQuantity {
		return domain.ErrInvalidQuantity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(dishID)
	if i < 0 {
		return nil
	}
	if qty == 0 {
		c.removeAt(i)
		return nil
	}
	c.lines[i].Qty = qty
	return nil
}

func (c *Cart) RemoveLine(dishID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(dishID); i >= 0 {
		c.removeAt(i)
	}
}

func (c *Cart) removeAt(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

func (c *Cart) Snapshot() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cart) snapshotLocked() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

func (c *Cart) Total() domain.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.SumLines(c.lines)
}

func (c *Cart) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		n += l.Qty
	}
	return n
}

// Checkout hands a snapshot to fn while holding the cart lock and clears the
// cart only if fn returns nil. Concurrent edits wait until fn is done, so they
// land either fully before the snapshot or fully after the clear.
func (c *Cart) Checkout(fn func(lines []domain.CartLine) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return domain.ErrEmptyCart
	}
	if err := fn(c.snapshotLocked()); err != nil {
		return err
	}
	c.lines = nil
	return nil
}
