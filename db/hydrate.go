package db

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
)

// Variant completes a hydrated message according to its content type.
type Variant func(msg *common.Message) error

// Hydrator turns rows into messages using the column mapping of one schema.
// The mapping and the variants are fixed at construction, so a Hydrator is safe for concurrent use.
type Hydrator struct {
	columns  map[string]string
	variants map[string]Variant
}

type HydratorOption func(h *Hydrator)

// WithVariant adds or replaces the variant of a content type.
func WithVariant(contentType string, variant Variant) HydratorOption {
	return func(h *Hydrator) {
		if variant != nil {
			h.variants[contentType] = variant
		}
	}
}

func NewHydrator(schema *configs.SchemaConfig, opts ...HydratorOption) *Hydrator {
	columns := make(map[string]string)
	for _, field := range schema.Fields() {
		columns[field] = schema.Column(field)
	}

	h := &Hydrator{
		columns: columns,
		variants: map[string]Variant{
			common.TextContentType: func(*common.Message) error { return nil },
			common.JsonContentType: jsonVariant,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hydrator) Hydrate(row Row) (*common.Message, error) {
	msg := &common.Message{}
	var err error

	if msg.ID, err = h.str(row, configs.FieldID); err != nil {
		return nil, err
	}
	if msg.Status, err = h.int(row, configs.FieldStatus); err != nil {
		return nil, err
	}
	if msg.Priority, err = h.int(row, configs.FieldPriority); err != nil {
		return nil, err
	}
	if msg.Topic, err = h.str(row, configs.FieldTopic); err != nil {
		return nil, err
	}
	if msg.Content, err = h.str(row, configs.FieldContent); err != nil {
		return nil, err
	}
	if msg.ContentType, err = h.str(row, configs.FieldContentType); err != nil {
		return nil, err
	}
	if msg.DateCreate, err = h.str(row, configs.FieldDateCreate); err != nil {
		return nil, err
	}

	nullable := []struct {
		field  string
		target **string
	}{
		{configs.FieldPendingToken, &msg.PendingToken},
		{configs.FieldDateUpdate, &msg.DateUpdate},
		{configs.FieldEntityID, &msg.EntityID},
		{configs.FieldDateAvailability, &msg.DateAvailability},
		{configs.FieldDateExpiration, &msg.DateExpiration},
	}
	for _, n := range nullable {
		if *n.target, err = h.nullableStr(row, n.field); err != nil {
			return nil, err
		}
	}

	variant, ok := h.variants[msg.ContentType]
	if !ok {
		// unknown content types are kept as opaque text
		return msg, nil
	}
	if err := variant(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (h *Hydrator) value(row Row, field string) (any, bool) {
	column, ok := h.columns[field]
	if !ok {
		return nil, false
	}
	v, ok := row[column]
	return v, ok
}

func (h *Hydrator) str(row Row, field string) (string, error) {
	v, ok := h.value(row, field)
	if !ok || v == nil {
		return "", nil
	}
	return toString(v, field)
}

func (h *Hydrator) nullableStr(row Row, field string) (*string, error) {
	v, ok := h.value(row, field)
	if !ok || v == nil {
		return nil, nil
	}
	s, err := toString(v, field)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *Hydrator) int(row Row, field string) (int, error) {
	v, ok := h.value(row, field)
	if !ok || v == nil {
		return 0, nil
	}

	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case int16:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, common.NewStorageError(err, "column for field %q is not an integer", field)
		}
		return i, nil
	default:
		return 0, common.NewStorageError(nil, "unexpected %T in column for field %q", v, field)
	}
}

func toString(v any, field string) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case time.Time:
		return common.FormatTime(s), nil
	case int64, int32, int:
		return fmt.Sprint(s), nil
	default:
		return "", common.NewStorageError(nil, "unexpected %T in column for field %q", v, field)
	}
}

func jsonVariant(msg *common.Message) error {
	if !json.Valid([]byte(msg.Content)) {
		return common.NewStorageError(nil, "message %s has a json content type but its content is not valid json", msg.ID)
	}
	return nil
}
