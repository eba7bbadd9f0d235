package bitrix

import "encoding/json"

// Response is a decoded Bitrix24 REST envelope.
type Response map[string]any

// Result returns the raw result field.
func (r Response) Result() any {
	if r == nil {
		return nil
	}
	return r["result"]
}

// List shapes the result as a collection of items. An empty provider result
// yields an empty slice, never nil, so "no rows" stays distinct from a
// dispatch failure.
func (r Response) List() []map[string]any {
	items := []map[string]any{}
	raw, ok := r.Result().([]any)
	if !ok {
		return items
	}
	for _, entry := range raw {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}

// Item shapes the result as a single record, nil when the provider returned
// nothing.
func (r Response) Item() map[string]any {
	item, _ := r.Result().(map[string]any)
	return item
}

// ID shapes the result as a numeric identifier (add operations).
func (r Response) ID() (int64, bool) {
	return toInt64(r.Result())
}

// OK shapes the result as a success flag (update/delete operations).
func (r Response) OK() bool {
	switch v := r.Result().(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}

// Total returns the provider-reported total row count for paginated lists.
func (r Response) Total() int64 {
	n, _ := toInt64(r["total"])
	return n
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
