package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldMap is an open label→value mapping that keeps first-seen label order.
// New labels in upstream email templates become new keys with no schema
// change. Setting an existing label overwrites its value in place
// (last-wins) without moving it.
type FieldMap struct {
	keys   []string
	values map[string]string
}

func NewFieldMap() *FieldMap {
	return &FieldMap{values: map[string]string{}}
}

func (m *FieldMap) Set(label, value string) {
	if m.values == nil {
		m.values = map[string]string{}
	}
	if _, ok := m.values[label]; !ok {
		m.keys = append(m.keys, label)
	}
	m.values[label] = value
}

func (m *FieldMap) Get(label string) (string, bool) {
	if m == nil || m.values == nil {
		return "", false
	}
	v, ok := m.values[label]
	return v, ok
}

func (m *FieldMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns labels in first-seen order.
func (m *FieldMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// MarshalJSON emits keys in insertion order, so serializing the same parse
// result twice yields byte-identical JSON.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	if m == nil || len(m.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fieldmap: expected object, got %v", tok)
	}

	m.keys = nil
	m.values = map[string]string{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fieldmap: non-string key %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("fieldmap: value for %q: %w", key, err)
		}
		m.Set(key, value)
	}

	_, err = dec.Token() // closing brace
	return err
}
