package persistence

import "encoding/json"

// toJSON serializes a JSON-ish value for storage in a TEXT column,
// returning nil (SQL NULL) for nil, an empty map[string]any or an empty
// []string so empty and absent are indistinguishable at the column level,
// matching how the rest of the engine treats an unset field. Any other
// value, including an empty string, is stored as its JSON encoding.
func toJSON(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func fromJSONMap(raw any) (map[string]any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromJSONAny decodes a JSON column value of arbitrary shape: a field map,
// an array, or a scalar (the END node's output config can resolve to any
// of these, see process.ProcessResult.Output).
func fromJSONAny(raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromJSONStrings(raw any) ([]string, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asString(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case []byte:
		return string(v), len(v) > 0
	default:
		return "", false
	}
}
