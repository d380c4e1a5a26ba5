package cart

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"what2eat/internal/domain"
)

func dish(id string, price domain.Amount) domain.DishRef {
	return domain.DishRef{ID: id, Name: "dish " + id, Price: price}
}

func TestAddLineMergesByDish(t *testing.T) {
	c := New()
	assert.Equal(t, c.AddLine(dish("a", 3000), 1), nil)
	assert.Equal(t, c.AddLine(dish("b", 1500), 1), nil)
	assert.Equal(t, c.AddLine(dish("a", 3000), 1), nil)

	lines := c.Snapshot()
	assert.Equal(t, len(lines), 2)
	assert.Equal(t, lines[0].Dish.ID, "a")
	assert.Equal(t, lines[0].Qty, 2)
	assert.Equal(t, lines[1].Dish.ID, "b")
	assert.Equal(t, c.Total(), domain.Amount(7500))
	assert.Equal(t, c.Count(), 3)
}

func TestAddLineRejectsBadInput(t *testing.T) {
	c := New()
	assert.Equal(t, errors.Is(c.AddLine(dish("a", 100), 0), domain.ErrInvalidQuantity), true)
	assert.Equal(t, errors.Is(c.AddLine(domain.DishRef{ID: "x"}, 1), domain.ErrInvalidDish), true)
	assert.Equal(t, errors.Is(c.AddLine(dish("n", -1), 1), domain.ErrInvalidDish), true)
	assert.Equal(t, len(c.Snapshot()), 0)
}

func TestSetQuantity(t *testing.T) {
	c := New()
	_ = c.AddLine(dish("a", 100), 1)

	assert.Equal(t, c.SetQuantity("a", 5), nil)
	assert.Equal(t, c.Snapshot()[0].Qty, 5)

	// absent dish is a no-op
	assert.Equal(t, c.SetQuantity("zzz", 3), nil)
	assert.Equal(t, len(c.Snapshot()), 1)

	assert.Equal(t, errors.Is(c.SetQuantity("a", -1), domain.ErrInvalidQuantity), true)
	assert.Equal(t, c.Snapshot()[0].Qty, 5)

	assert.Equal(t, c.SetQuantity("a", 0), nil)
	assert.Equal(t, len(c.Snapshot()), 0)
	assert.Equal(t, c.SetQuantity("a", 0), nil)
}

func TestQuantityIsBounded(t *testing.T) {
	c := New()
	assert.Equal(t, errors.Is(c.AddLine(dish("a", 100), math.MaxInt), domain.ErrInvalidQuantity), true)
	assert.Equal(t, len(c.Snapshot()), 0)

	assert.Equal(t, c.AddLine(dish("a", 100), domain.MaxQuantity), nil)
	// one more would push the line past the bound; the line must not change
	assert.Equal(t, errors.Is(c.AddLine(dish("a", 100), 1), domain.ErrInvalidQuantity), true)
	assert.Equal(t, c.Snapshot()[0].Qty, domain.MaxQuantity)

	assert.Equal(t, errors.Is(c.SetQuantity("a", domain.MaxQuantity+1), domain.ErrInvalidQuantity), true)
	assert.Equal(t, errors.Is(c.SetQuantity("a", math.MaxInt), domain.ErrInvalidQuantity), true)
	assert.Equal(t, c.Snapshot()[0].Qty, domain.MaxQuantity)

	assert.Equal(t, c.SetQuantity("a", 10), nil)
	assert.Equal(t, c.AddLine(dish("a", 100), domain.MaxQuantity-10), nil)
	assert.Equal(t, c.Count(), domain.MaxQuantity)
	assert.Equal(t, c.Total(), domain.Amount(100*domain.MaxQuantity))
}

func TestPriceIsBounded(t *testing.T) {
	c := New()
	err := c.AddLine(dish("gold", domain.MaxPrice+1), 1)
	assert.Equal(t, errors.Is(err, domain.ErrInvalidDish), true)

	assert.Equal(t, c.AddLine(dish("gold", domain.MaxPrice), domain.MaxQuantity), nil)
	assert.Equal(t, c.Total() > 0, true)
}

func TestRemoveLineAndClear(t *testing.T) {
	c := New()
	_ = c.AddLine(dish("a", 100), 1)
	_ = c.AddLine(dish("b", 100), 1)
	c.RemoveLine("a")
	c.RemoveLine("a")
	assert.Equal(t, len(c.Snapshot()), 1)
	c.Clear()
	assert.Equal(t, len(c.Snapshot()), 0)
	assert.Equal(t, c.Total(), domain.Amount(0))
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := New()
	_ = c.AddLine(dish("a", 100), 1)
	s := c.Snapshot()
	s[0].Qty = 99
	assert.Equal(t, c.Snapshot()[0].Qty, 1)
}

func TestCheckoutClearsOnlyOnSuccess(t *testing.T) {
	c := New()
	err := c.Checkout(func([]domain.CartLine) error { return nil })
	assert.Equal(t, errors.Is(err, domain.ErrEmptyCart), true)

	_ = c.AddLine(dish("a", 100), 2)
	boom := errors.New("boom")
	assert.Equal(t, c.Checkout(func([]domain.CartLine) error { return boom }), boom)
	assert.Equal(t, c.Count(), 2)

	var got []domain.CartLine
	assert.Equal(t, c.Checkout(func(l []domain.CartLine) error { got = l; return nil }), nil)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, c.Count(), 0)
}

// model is a map-based reference; the cart must agree with it after any op sequence.
type model struct {
	order []string
	qty   map[string]int
	price map[string]domain.Amount
}

func TestRandomOpsKeepTotalsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ids := []string{"a", "b", "c", "d"}
	prices := map[string]domain.Amount{"a": 3000, "b": 1500, "c": 0, "d": 999}

	for run := 0; run < 50; run++ {
		c := New()
		m := model{qty: map[string]int{}, price: prices}
		for step := 0; step < 200; step++ {
			id := ids[rng.Intn(len(ids))]
			switch rng.Intn(4) {
			case 0:
				q := rng.Intn(4)
				err := c.AddLine(dish(id, prices[id]), q)
				if q < 1 {
					assert.Equal(t, errors.Is(err, domain.ErrInvalidQuantity), true)
					continue
				}
				if m.qty[id] == 0 {
					m.order = append(m.order, id)
				}
				m.qty[id] += q
			case 1:
				q := rng.Intn(5) - 1
				err := c.SetQuantity(id, q)
				if q < 0 {
					assert.Equal(t, errors.Is(err, domain.ErrInvalidQuantity), true)
					continue
				}
				if m.qty[id] == 0 {
					continue
				}
				if q == 0 {
					m.remove(id)
				} else {
					m.qty[id] = q
				}
			case 2:
				c.RemoveLine(id)
				m.remove(id)
			case 3:
				if rng.Intn(10) == 0 {
					c.Clear()
					m.order, m.qty = nil, map[string]int{}
				}
			}

			lines := c.Snapshot()
			assert.Equal(t, len(lines), len(m.order))
			var want domain.Amount
			seen := map[string]bool{}
			for i, l := range lines {
				if l.Qty < 1 || seen[l.Dish.ID] {
					t.Fatalf("bad line %+v", l)
				}
				seen[l.Dish.ID] = true
				assert.Equal(t, l.Dish.ID, m.order[i])
				assert.Equal(t, l.Qty, m.qty[l.Dish.ID])
				want += prices[l.Dish.ID].Mul(l.Qty)
			}
			assert.Equal(t, c.Total(), want)
		}
	}
}

func (m *model) remove(id string) {
	if m.qty[id] == 0 {
		return
	}
	delete(m.qty, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.AddLine(dish("a", 100), 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, c.Count(), 50)
	assert.Equal(t, len(c.Snapshot()), 1)
}

func TestRegistryReturnsSameCartPerUser(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, r.For("u1") == r.For("u1"), true)
	assert.Equal(t, r.For("u1") == r.For("u2"), false)
}
