package common

type MessageResponse struct {
	Id          string  `json:"id"`
	Topic       string  `json:"topic"`
	Content     string  `json:"content"`
	ContentType string  `json:"contentType"`
	Priority    int     `json:"priority"`
	EntityId    *string `json:"entityId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

type NewMessageResponse struct {
	Id        string `json:"id,omitempty"`
	Published bool   `json:"published"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type StatsResponse struct {
	TotalMessages int64            `json:"totalMessages"`
	ByStatus      map[string]int64 `json:"byStatus"`
}

type ErrorResponse struct {
	Code string `json:"code,omitempty"`
}

func ToMessageResponse(m *Message) MessageResponse {
	return MessageResponse{
		Id:          m.ID,
		Topic:       m.Topic,
		Content:     m.Content,
		ContentType: m.ContentType,
		Priority:    m.Priority,
		EntityId:    m.EntityID,
		CreatedAt:   m.DateCreate,
	}
}
