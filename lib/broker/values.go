package broker

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// DecodeValues decodes JSON into v keeping integral numbers as int64.
// Nested values of []any, [][]any and any targets are normalised, other
// targets are decoded as usual.
func DecodeValues(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode values")
	}

	switch p := v.(type) {
	case *any:
		*p = normalize(*p)
	case *[]any:
		normalizeAll(*p)
	case *[][]any:
		for _, row := range *p {
			normalizeAll(row)
		}
	}
	return nil
}

func normalizeAll(values []any) {
	for i, v := range values {
		values[i] = normalize(v)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if iv, err := t.Int64(); err == nil {
			return iv
		}
		if fv, err := t.Float64(); err == nil {
			return fv
		}
		return t.String()
	case []any:
		normalizeAll(t)
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	default:
		return v
	}
}
