package codec

import (
	"bytes"
	"encoding/json"
	"sort"
)

// CanonicalJSON re-serializes an arbitrary JSON-shaped map with object keys
// in sorted order, at every nesting level. Log entries are signed over this
// canonical form rather than the wire bytes, so the signature survives
// field reordering across client/server JSON implementations.
//
// No library in the dependency pack offers a canonical-JSON encoder, so
// this is hand-rolled over encoding/json and sort.Strings.
func CanonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize round-trips v through encoding/json to get a generic
// map[string]interface{}/[]interface{} tree, then rebuilds it as an
// ordered sequence of key/value pairs so Marshal emits sorted keys.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return sortValue(generic), nil
}

// orderedMap marshals as a JSON object with keys emitted in Keys order.
type orderedMap struct {
	Keys   []string
	Values map[string]interface{}
}

func (o orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyRaw, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyRaw)
		buf.WriteByte(':')
		valRaw, err := json.Marshal(o.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valRaw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sortValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		values := make(map[string]interface{}, len(t))
		for k, val := range t {
			keys = append(keys, k)
			values[k] = sortValue(val)
		}
		sort.Strings(keys)
		return orderedMap{Keys: keys, Values: values}
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sortValue(val)
		}
		return out
	default:
		return t
	}
}
