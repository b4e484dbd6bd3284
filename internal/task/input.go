package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputData is an insertion-ordered string-keyed map of arbitrary
// JSON-compatible values. Per §3 a task's input payload is always such
// a mapping — never a bare scalar, array, or nested structure — which
// is what makes §4.5.3's key-wise chunking well defined for every
// divisible task.
type InputData struct {
	keys   []string
	values map[string]interface{}
}

// NewInputData returns an empty ordered map.
func NewInputData() *InputData {
	return &InputData{values: make(map[string]interface{})}
}

// InputDataFromPairs builds an InputData preserving the given order.
func InputDataFromPairs(keys []string, values map[string]interface{}) *InputData {
	d := &InputData{
		keys:   append([]string(nil), keys...),
		values: make(map[string]interface{}, len(values)),
	}
	for _, k := range keys {
		d.values[k] = values[k]
	}
	return d
}

// Len returns the number of keys.
func (d *InputData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order. The returned slice must not
// be mutated by the caller.
func (d *InputData) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

// Get returns the value for key and whether it was present.
func (d *InputData) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Set appends key with value, or overwrites it in place if already present.
func (d *InputData) Set(key string, value interface{}) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Slice returns a new InputData holding the contiguous key range
// [lo, hi), preserving order. Used to partition a divisible task's
// input into per-shard chunks (§4.5.3).
func (d *InputData) Slice(lo, hi int) *InputData {
	keys := d.keys[lo:hi]
	out := &InputData{
		keys:   append([]string(nil), keys...),
		values: make(map[string]interface{}, len(keys)),
	}
	for _, k := range keys {
		out.values[k] = d.values[k]
	}
	return out
}

// MarshalJSON emits the map as a JSON object with keys in insertion order.
func (d *InputData) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON walks the raw JSON token stream so key order on the wire
// is preserved rather than scrambled by map iteration.
func (d *InputData) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("input data must be a JSON object, got %v", tok)
	}

	keys := make([]string, 0)
	values := make(map[string]interface{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return err
		}
		if _, exists := values[key]; !exists {
			keys = append(keys, key)
		}
		values[key] = val
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return err
	}

	d.keys = keys
	d.values = values
	return nil
}
