package models

import (
	"encoding/json"
	"fmt"
)

// maxSectionsUnwrap bounds how many string layers DecodeSections peels off.
const maxSectionsUnwrap = 4

// EncodeSections is the only encoding written for generated_sections: one
// JSON object literal.
func EncodeSections(sections map[string]string) (string, error) {
	if sections == nil {
		sections = map[string]string{}
	}
	b, err := json.Marshal(sections)
	if err != nil {
		return "", fmt.Errorf("failed to encode sections: %w", err)
	}
	return string(b), nil
}

// DecodeSections reads a stored generated_sections value. Values written as a
// JSON string of a JSON object are unwrapped. Anything undecodable yields an
// empty map and ok=false.
func DecodeSections(raw string) (map[string]string, bool) {
	if raw == "" {
		return map[string]string{}, true
	}

	data := []byte(raw)
	for i := 0; i < maxSectionsUnwrap; i++ {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err == nil {
			if obj == nil {
				return map[string]string{}, true
			}
			return flatten(obj), true
		}

		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			break
		}
		data = []byte(inner)
	}
	return map[string]string{}, false
}

func flatten(obj map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}
