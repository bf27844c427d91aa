package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemActor is recorded when no authenticated user performed the action
const SystemActor = "system"

// Event is one immutable audit record. DraftID is empty for batch-level events.
// CreatedAt stays zero until the audit repository persists the event.
type Event struct {
	ID        string                 `json:"event_id"`
	Type      Type                   `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	DraftID   string                 `json:"draft_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates an audit event with a generated ID, stamped now.
// Data values are normalized to JSON primitives and copied, so later changes
// to the caller's map never reach the event.
func NewEvent(eventType Type, actor, draftID string, data map[string]interface{}) *Event {
	return NewEventAt(eventType, actor, draftID, data, time.Now().UTC())
}

// NewEventAt is NewEvent with an explicit business timestamp
func NewEventAt(eventType Type, actor, draftID string, data map[string]interface{}, at time.Time) *Event {
	if actor == "" {
		actor = SystemActor
	}

	normalized := make(map[string]interface{}, len(data))
	for k, v := range data {
		normalized[k] = normalizeValue(v)
	}

	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: at.UTC(),
		Actor:     actor,
		DraftID:   draftID,
		Data:      normalized,
	}
}

// WithData returns a new Event with an added data key-value pair (immutable operation)
func (e *Event) WithData(key string, value interface{}) *Event {
	newData := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		newData[k] = v
	}
	newData[key] = normalizeValue(value)

	return &Event{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		DraftID:   e.DraftID,
		Data:      newData,
		CreatedAt: e.CreatedAt,
	}
}

// IsBatchLevel reports whether the event is not tied to a single draft
func (e *Event) IsBatchLevel() bool {
	return e.DraftID == ""
}

// GetDataString retrieves a string value from the data payload
func (e *Event) GetDataString(key string) string {
	if val, ok := e.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetDataInt retrieves an int64 value from the data payload
func (e *Event) GetDataInt(key string) int64 {
	if val, ok := e.Data[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetDataBool retrieves a bool value from the data payload
func (e *Event) GetDataBool(key string) bool {
	if val, ok := e.Data[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// normalizeValue maps a value onto something encoding/json writes as a primitive
// or a list/object of primitives.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return val.String()
	case decimal.NullDecimal:
		if !val.Valid {
			return nil
		}
		return val.Decimal.String()
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
