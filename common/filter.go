package common

import (
	"regexp"
	"slices"
	"time"
)

var (
	topicPatternRegexp = regexp.MustCompile(`^([a-z0-9_]+\.)*([a-z0-9_]+|\*)$`)
	topicNameRegexp    = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)
)

// Filter holds the criteria of one claim, count or list query.
// Setters validate their argument and leave the filter untouched on error.
type Filter struct {
	offset       int
	limit        int
	maxLimit     int
	topic        string
	statuses     []int
	priorities   []int
	entityID     *string
	current      time.Time
	availability *time.Time
	expiration   *time.Time
}

type FilterOption func(f *Filter) error

func NewFilter(opts ...FilterOption) (*Filter, error) {
	return NewFilterWithMaxLimit(DefaultMaxLimit, opts...)
}

func NewFilterWithMaxLimit(maxLimit int, opts ...FilterOption) (*Filter, error) {
	if maxLimit < 1 {
		return nil, NewRangeError("max limit must be greater than 0, got %d", maxLimit)
	}

	f := &Filter{
		limit:    1,
		maxLimit: maxLimit,
		statuses: []int{InQueueStatus},
		current:  time.Now().UTC().Truncate(time.Second),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func WithLimit(limit int) FilterOption {
	return func(f *Filter) error { return f.SetLimit(limit) }
}

func WithOffset(offset int) FilterOption {
	return func(f *Filter) error { return f.SetOffset(offset) }
}

func WithStatuses(statuses ...int) FilterOption {
	return func(f *Filter) error { return f.SetStatuses(statuses...) }
}

func WithPriorities(priorities ...int) FilterOption {
	return func(f *Filter) error { return f.SetPriorities(priorities...) }
}

func WithTopic(topic string) FilterOption {
	return func(f *Filter) error { return f.SetTopic(topic) }
}

func WithEntityID(entityID string) FilterOption {
	return func(f *Filter) error {
		f.SetEntityID(entityID)
		return nil
	}
}

func WithCurrent(t time.Time) FilterOption {
	return func(f *Filter) error {
		f.SetCurrent(t)
		return nil
	}
}

func WithAvailability(t time.Time) FilterOption {
	return func(f *Filter) error {
		f.SetAvailability(t)
		return nil
	}
}

func WithExpiration(t time.Time) FilterOption {
	return func(f *Filter) error { return f.SetExpiration(t) }
}

func (f *Filter) SetLimit(limit int) error {
	if limit < 1 {
		return NewRangeError("limit must be greater than 0, got %d", limit)
	}
	if limit > f.maxLimit {
		return NewRangeError("limit cannot be greater than max limit %d, got %d", f.maxLimit, limit)
	}
	f.limit = limit
	return nil
}

func (f *Filter) SetOffset(offset int) error {
	if offset < 0 {
		return NewRangeError("offset must be equal to or greater than 0, got %d", offset)
	}
	f.offset = offset
	return nil
}

func (f *Filter) SetStatuses(statuses ...int) error {
	for _, status := range statuses {
		if !IsValidStatus(status) {
			return NewRangeError("status %d is out of range [%d, %d]", status, InQueueStatus, AckNotReceivedStatus)
		}
	}
	f.statuses = uniqueInts(statuses)
	return nil
}

// SetPriorities narrows the filter to the given priorities. No priority means any priority.
func (f *Filter) SetPriorities(priorities ...int) error {
	for _, priority := range priorities {
		if !IsValidPriority(priority) {
			return NewRangeError("priority %d is out of range [%d, %d]", priority, VeryHighPriority, VeryLowPriority)
		}
	}
	f.priorities = uniqueInts(priorities)
	return nil
}

// SetTopic accepts an exact dot-segmented topic or one ending with a single "*" segment.
func (f *Filter) SetTopic(topic string) error {
	if topic == "" {
		return NewConfigurationError("topic filter cannot be empty")
	}
	if !topicPatternRegexp.MatchString(topic) {
		return NewConfigurationError("topic filter %q must contain only [a-z0-9_] segments separated by dots, with an optional trailing *", topic)
	}
	f.topic = topic
	return nil
}

// SetEntityID narrows the filter to one entity. An empty id is a valid value.
func (f *Filter) SetEntityID(entityID string) {
	f.entityID = &entityID
}

func (f *Filter) SetCurrent(t time.Time) {
	f.current = t.UTC().Truncate(time.Second)
}

func (f *Filter) SetCurrentString(raw string) error {
	t, err := ParseTime(raw)
	if err != nil {
		return err
	}
	f.SetCurrent(t)
	return nil
}

func (f *Filter) SetAvailability(t time.Time) {
	t = t.UTC().Truncate(time.Second)
	f.availability = &t
}

func (f *Filter) SetAvailabilityString(raw string) error {
	t, err := ParseTime(raw)
	if err != nil {
		return err
	}
	f.SetAvailability(t)
	return nil
}

func (f *Filter) SetExpiration(t time.Time) error {
	t = t.UTC().Truncate(time.Second)
	if t.Before(time.Now().UTC().Truncate(time.Second)) {
		return NewRangeError("expiration %s is prior to the current date time", FormatTime(t))
	}
	f.expiration = &t
	return nil
}

func (f *Filter) SetExpirationString(raw string) error {
	t, err := ParseTime(raw)
	if err != nil {
		return err
	}
	return f.SetExpiration(t)
}

func (f *Filter) Offset() int {
	return f.offset
}

func (f *Filter) Limit() int {
	return f.limit
}

func (f *Filter) MaxLimit() int {
	return f.maxLimit
}

func (f *Filter) Topic() string {
	return f.topic
}

func (f *Filter) Statuses() []int {
	return slices.Clone(f.statuses)
}

func (f *Filter) Priorities() []int {
	return slices.Clone(f.priorities)
}

// EntityID returns nil when the filter is not narrowed to an entity.
func (f *Filter) EntityID() *string {
	return f.entityID
}

func (f *Filter) Current() string {
	return FormatTime(f.current)
}

// Availability is the instant messages must be available at; it defaults to the current time.
func (f *Filter) Availability() string {
	if f.availability != nil {
		return FormatTime(*f.availability)
	}
	return f.Current()
}

// Expiration is the instant messages must still be valid at; it defaults to the current time.
func (f *Filter) Expiration() string {
	if f.expiration != nil {
		return FormatTime(*f.expiration)
	}
	return f.Current()
}

func (f *Filter) Clone() *Filter {
	clone := *f
	clone.statuses = slices.Clone(f.statuses)
	clone.priorities = slices.Clone(f.priorities)
	return &clone
}

// IsValidTopicName reports whether topic can be used as the topic of a published message.
func IsValidTopicName(topic string) bool {
	return topicNameRegexp.MatchString(topic)
}

func uniqueInts(values []int) []int {
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
