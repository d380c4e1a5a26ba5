package domain

import "time"

type EventType string

const (
	EventAppend EventType = "append"
	EventDelete EventType = "delete"
)

// FeedEvent is both the in-process distribution unit and the wire message sent to
// subscribers, relayed over RabbitMQ and written to the changelog.
type FeedEvent struct {
	GroupID    string     `json:"groupId"`
	EventType  EventType  `json:"eventType"`
	Seq        uint64     `json:"seq"`
	Record     *RecordMsg `json:"record,omitempty"`
	RecordID   string     `json:"recordId,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

type LineMsg struct {
	DishID string `json:"dishId"`
	Name   string `json:"name"`
	Price  Amount `json:"price"`
	Qty    int    `json:"qty"`
	Image  string `json:"image,omitempty"`
}

type RecordMsg struct {
	ID           string    `json:"id"`
	PusherID     string    `json:"pusherId"`
	PusherName   string    `json:"pusherName"`
	PusherAvatar string    `json:"pusherAvatar"`
	Lines        []LineMsg `json:"lines"`
	Total        Amount    `json:"total"`
	CreatedAt    time.Time `json:"createdAt"`
}

func NewRecordMsg(r PushRecord) *RecordMsg {
	lines := make([]LineMsg, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, LineMsg{
			DishID: l.Dish.ID,
			Name:   l.Dish.Name,
			Price:  l.Dish.Price,
			Qty:    l.Qty,
			Image:  l.Dish.Image,
		})
	}
	return &RecordMsg{
		ID:           r.ID,
		PusherID:     r.Pusher.ID,
		PusherName:   r.Pusher.DisplayName,
		PusherAvatar: r.Pusher.AvatarRef,
		Lines:        lines,
		Total:        r.Total,
		CreatedAt:    r.CreatedAt,
	}
}

// ToRecord converts a wire record back into the domain value.
func (m *RecordMsg) ToRecord() PushRecord {
	lines := make([]CartLine, 0, len(m.Lines))
	for _, l := range m.Lines {
		lines = append(lines, CartLine{
			Dish: DishRef{ID: l.DishID, Name: l.Name, Price: l.Price, Image: l.Image},
			Qty:  l.Qty,
		})
	}
	return PushRecord{
		ID:        m.ID,
		Pusher:    Identity{ID: m.PusherID, DisplayName: m.PusherName, AvatarRef: m.PusherAvatar},
		Lines:     lines,
		Total:     m.Total,
		CreatedAt: m.CreatedAt,
	}
}

func AppendEvent(groupID string, seq uint64, r PushRecord) FeedEvent {
	return FeedEvent{
		GroupID:    groupID,
		EventType:  EventAppend,
		Seq:        seq,
		Record:     NewRecordMsg(r),
		OccurredAt: r.CreatedAt,
	}
}

func DeleteEvent(groupID string, seq uint64, recordID string, at time.Time) FeedEvent {
	return FeedEvent{
		GroupID:    groupID,
		EventType:  EventDelete,
		Seq:        seq,
		RecordID:   recordID,
		OccurredAt: at,
	}
}
