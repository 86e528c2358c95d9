// SPDX-License-Identifier: Apache-2.0

package engine

import "encoding/json"

// Payload is the document passed between workflow steps. It is a value
// type: With and Merge return copies, so a step never observes mutations
// made by a later step. Getters fail closed: a missing or mistyped field
// reads as the zero value, which keeps choice predicates total.
type Payload struct {
	values map[string]any
}

func NewPayload(values map[string]any) Payload {
	p := Payload{values: make(map[string]any, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

func (p Payload) With(key string, value any) Payload {
	next := Payload{values: make(map[string]any, len(p.values)+1)}
	for k, v := range p.values {
		next.values[k] = v
	}
	next.values[key] = value
	return next
}

func (p Payload) Merge(values map[string]any) Payload {
	next := Payload{values: make(map[string]any, len(p.values)+len(values))}
	for k, v := range p.values {
		next.values[k] = v
	}
	for k, v := range values {
		next.values[k] = v
	}
	return next
}

func (p Payload) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

func (p Payload) Bool(key string) bool {
	v, ok := p.values[key].(bool)
	return ok && v
}

func (p Payload) String(key string) string {
	v, _ := p.values[key].(string)
	return v
}

// Int tolerates float64 values so payloads survive a JSON round trip.
func (p Payload) Int(key string) int {
	switch v := p.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Map returns nil when the field is missing or not an object.
func (p Payload) Map(key string) map[string]any {
	v, _ := p.values[key].(map[string]any)
	return v
}

func (p Payload) Len() int {
	return len(p.values)
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.values)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	values := make(map[string]any)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	p.values = values
	return nil
}
