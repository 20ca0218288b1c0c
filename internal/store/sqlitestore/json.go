package sqlitestore

import (
	"fmt"

	json "github.com/goccy/go-json"
)

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: marshal json: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON(s string, dest any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return fmt.Errorf("sqlitestore: unmarshal json: %w", err)
	}
	return nil
}
