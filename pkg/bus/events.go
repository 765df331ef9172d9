package bus

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Payload is the structured record carried by an event.
type Payload map[string]any

// Event is one published message. Handlers receive it by value and must not
// mutate the payload.
type Event struct {
	Name    string    `json:"name"`
	Payload Payload   `json:"payload,omitempty"`
	Source  string    `json:"source,omitempty"`
	Target  string    `json:"target,omitempty"`
	At      time.Time `json:"at"`
}

// Handler runs for every delivery of a subscribed event name.
type Handler func(Event) error

// Remote forwards events to other execution contexts. An event with an empty
// Target is a broadcast.
type Remote interface {
	Send(Event) error
}

// Clone deep-copies nested maps and slices so later writes by the publisher,
// nested ones included, never reach subscribers. Other values are copied by
// assignment.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}

	return Payload(cloneMap(p))
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case Payload:
		return typed.Clone()
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(typed)
	default:
		return value
	}
}

// String returns the string stored at key, or "" when absent or not a string.
func (p Payload) String(key string) string {
	value, ok := p[key].(string)
	if !ok {
		return ""
	}

	return value
}

// Bool returns the bool stored at key, or false.
func (p Payload) Bool(key string) bool {
	value, ok := p[key].(bool)
	return ok && value
}

// Decode maps a payload onto a struct using its json tags. Numbers decoded
// from JSON (float64) convert to integer fields.
func Decode(payload Payload, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build payload decoder: %w", err)
	}

	if err := decoder.Decode(map[string]any(payload)); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	return nil
}

type emitOptions struct {
	target    string
	localOnly bool
}

// EmitOption changes how Emit routes an event.
type EmitOption func(*emitOptions)

// To addresses the event to exactly one remote context. Local subscribers do
// not see addressed events.
func To(target string) EmitOption {
	return func(o *emitOptions) {
		o.target = target
	}
}

// LocalOnly keeps the event inside the current context.
func LocalOnly() EmitOption {
	return func(o *emitOptions) {
		o.localOnly = true
	}
}
