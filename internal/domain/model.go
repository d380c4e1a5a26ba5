package domain

import "time"

const (
	// MaxQuantity bounds a single cart line.
	MaxQuantity = 999
	// MaxPrice bounds a dish price, so a line subtotal stays far inside int64.
	MaxPrice Amount = 1_000_000_000_00
)

// DishRef identifies a menu item. Values are copied into cart lines and push
// records, so a referenced dish never changes underneath them.
type DishRef struct {
	ID    string `json:"dishId"`
	Name  string `json:"name"`
	Price Amount `json:"price"`
	Image string `json:"image,omitempty"`
}

func (d DishRef) Validate() error {
	if d.ID == "" || d.Name == "" || d.Price < 0 || d.Price > MaxPrice {
		return ErrInvalidDish
	}
	return nil
}

type CartLine struct {
	Dish DishRef
	Qty  int
}

// Subtotal is price × quantity for the line.
func (l CartLine) Subtotal() Amount { return l.Dish.Price.Mul(l.Qty) }

// SumLines is the total of the given lines; totals are always derived, never stored
// beside the lines they describe (push records freeze the value once at creation).
func SumLines(lines []CartLine) Amount {
	var total Amount
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

// Identity is what the session collaborator vouches for.
type Identity struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

type PushRecord struct {
	ID        string
	Pusher    Identity
	Lines     []CartLine
	Total     Amount
	CreatedAt time.Time
}

// Clone returns a copy that shares no slice memory with r.
func (r PushRecord) Clone() PushRecord {
	r.Lines = append([]CartLine(nil), r.Lines...)
	return r
}

// FeedEntry is a record at its position in a group's feed.
type FeedEntry struct {
	GroupID string
	Seq     uint64
	Record  PushRecord
	Deleted bool
}
