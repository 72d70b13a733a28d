package common

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MergeStrategy reconciles the payload of an incoming entity message with the row
// it is about to overwrite. Implementations mutate incoming.
type MergeStrategy interface {
	Merge(existing *Message, incoming *Message) error
}

type MergeFunc func(existing *Message, incoming *Message) error

func (f MergeFunc) Merge(existing *Message, incoming *Message) error {
	return f(existing, incoming)
}

// BitwiseOrJSONField ORs the integer field of both JSON payloads into incoming.
// A field missing on either side counts as 0.
func BitwiseOrJSONField(field string) MergeStrategy {
	return MergeFunc(func(existing *Message, incoming *Message) error {
		existingContent, err := decodeJsonObject(existing.Content)
		if err != nil {
			return fmt.Errorf("decode existing content: %w", err)
		}
		incomingContent, err := decodeJsonObject(incoming.Content)
		if err != nil {
			return fmt.Errorf("decode incoming content: %w", err)
		}

		left, err := jsonIntField(existingContent, field)
		if err != nil {
			return err
		}
		right, err := jsonIntField(incomingContent, field)
		if err != nil {
			return err
		}

		incomingContent[field] = left | right

		merged, err := json.Marshal(incomingContent)
		if err != nil {
			return err
		}
		incoming.Content = string(merged)
		return nil
	})
}

func decodeJsonObject(raw string) (map[string]any, error) {
	out := make(map[string]any)
	if raw == "" {
		return out, nil
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonIntField(content map[string]any, field string) (int64, error) {
	raw, ok := content[field]
	if !ok || raw == nil {
		return 0, nil
	}
	number, ok := raw.(json.Number)
	if !ok {
		return 0, NewLogicError("field %q is not a number", field)
	}
	value, err := number.Int64()
	if err != nil {
		return 0, NewLogicError("field %q is not an integer", field)
	}
	return value, nil
}
