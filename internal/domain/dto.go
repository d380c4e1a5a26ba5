package domain

type AddLineRequest struct {
	DishID string `json:"dishId"`
	Qty    *int   `json:"qty,omitempty"`
}

type SetQuantityRequest struct {
	Qty *int `json:"qty"`
}

type CartResponse struct {
	Lines []LineMsg `json:"lines"`
	Total Amount    `json:"total"`
	Count int       `json:"count"`
}

type PushPage struct {
	GroupID    string     `json:"groupId"`
	Pushes     []EntryMsg `json:"pushes"`
	NextCursor uint64     `json:"nextCursor"`
}

type EntryMsg struct {
	Seq    uint64     `json:"seq"`
	Record *RecordMsg `json:"record"`
}

type EventPage struct {
	GroupID    string      `json:"groupId"`
	Events     []FeedEvent `json:"events"`
	NextCursor uint64      `json:"nextCursor"`
}

func NewLineMsgs(lines []CartLine) []LineMsg {
	out := make([]LineMsg, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineMsg{DishID: l.Dish.ID, Name: l.Dish.Name, Price: l.Dish.Price, Qty: l.Qty, Image: l.Dish.Image})
	}
	return out
}
