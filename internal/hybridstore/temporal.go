package hybridstore

import (
	"fmt"
	"time"
)

// normalizeTimestamp accepts an ISO-8601 string, a Unix-seconds number, or a
// time.Time and returns Unix seconds. Callers pass Since/Until as any of
// these, matching the spec's "ISO strings, real timestamps, or platform date
// objects" temporal filtering contract.
func normalizeTimestamp(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("hybridstore: nil timestamp")
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case time.Time:
		return float64(t.Unix()), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, fmt.Errorf("hybridstore: parsing timestamp %q: %w", t, err)
		}
		return float64(parsed.Unix()), nil
	default:
		return 0, fmt.Errorf("hybridstore: unsupported timestamp type %T", v)
	}
}
