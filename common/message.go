package common

import (
	"encoding/json"
	"time"
)

// Message is the in-memory projection of one queue row.
// Date fields hold UTC timestamps formatted with DateFormat; nil means NULL.
type Message struct {
	ID               string
	Status           int
	Priority         int
	Topic            string
	Content          string
	ContentType      string
	EntityID         *string
	DateCreate       string
	DateUpdate       *string
	DateAvailability *string
	DateExpiration   *string
	PendingToken     *string
}

func NewMessage(topic string, content string) *Message {
	return &Message{
		Status:      InQueueStatus,
		Priority:    MediumPriority,
		Topic:       topic,
		Content:     content,
		ContentType: TextContentType,
		DateCreate:  NowString(),
	}
}

// NewJSONMessage encodes v as the message content. The message is available right away.
func NewJSONMessage(topic string, v any) (*Message, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	now := NowString()
	return &Message{
		Status:           InQueueStatus,
		Priority:         MediumPriority,
		Topic:            topic,
		Content:          string(content),
		ContentType:      JsonContentType,
		DateCreate:       now,
		DateAvailability: StringPtr(now),
	}, nil
}

func (m *Message) SetStatus(status int) error {
	if !IsValidStatus(status) {
		return NewRangeError("status %d is out of range [%d, %d]", status, InQueueStatus, AckNotReceivedStatus)
	}
	m.Status = status
	return nil
}

func (m *Message) SetPriority(priority int) error {
	if !IsValidPriority(priority) {
		return NewRangeError("priority %d is out of range [%d, %d]", priority, VeryHighPriority, VeryLowPriority)
	}
	m.Priority = priority
	return nil
}

func (m *Message) SetEntityID(entityID string) {
	m.EntityID = &entityID
}

// SetAvailability delays the message: it cannot be claimed before t.
func (m *Message) SetAvailability(t time.Time) {
	m.DateAvailability = StringPtr(FormatTime(t))
}

// SetExpiration makes the message unclaimable at and after t.
func (m *Message) SetExpiration(t time.Time) {
	m.DateExpiration = StringPtr(FormatTime(t))
}

func (m *Message) HasEntity() bool {
	return m.EntityID != nil && *m.EntityID != ""
}

func (m *Message) IsJSON() bool {
	return m.ContentType == JsonContentType
}

func (m *Message) DecodeJSON(v any) error {
	return json.Unmarshal([]byte(m.Content), v)
}

// Validate checks the fields the state machine relies on.
func (m *Message) Validate() error {
	if !IsValidTopicName(m.Topic) {
		return NewConfigurationError("invalid topic %q", m.Topic)
	}
	if !IsValidStatus(m.Status) {
		return NewRangeError("status %d is out of range [%d, %d]", m.Status, InQueueStatus, AckNotReceivedStatus)
	}
	if !IsValidPriority(m.Priority) {
		return NewRangeError("priority %d is out of range [%d, %d]", m.Priority, VeryHighPriority, VeryLowPriority)
	}
	return nil
}
