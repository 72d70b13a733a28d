package common

// NewMessageRequest is the body of a publish call.
type NewMessageRequest struct {
	Content      string `json:"content"`
	ContentType  string `json:"contentType,omitempty"`  // "text" (default) or "json"
	Priority     int    `json:"priority,omitempty"`     // 1 (very high) to 5 (very low), 3 when omitted
	EntityId     string `json:"entityId,omitempty"`     // enables EntityMode
	EntityMode   string `json:"entityMode,omitempty"`   // "", "update" or "skip"
	OrMergeField string `json:"orMergeField,omitempty"` // JSON field ORed with the stored message in "update" mode
	ProcessAfter int64  `json:"processAfter,omitempty"` // unix ms, the message is not delivered before
	ExpiresAfter int64  `json:"expiresAfter,omitempty"` // unix ms, the message is not delivered after
}

const (
	UpdateEntityMode = "update"
	SkipEntityMode   = "skip"
)

// FetchRequest describes what a consumer wants to claim.
type FetchRequest struct {
	Topic      string
	Limit      int
	Priorities []int
	EntityId   *string
	Wait       bool
}
