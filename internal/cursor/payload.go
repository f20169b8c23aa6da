package cursor

import (
	"encoding/json"
	"strconv"
)

// FromPayload reads resumption ids from a decoded event payload plus the
// transport id: line. Sequence ids may arrive as numbers or strings.
func FromPayload(payload map[string]any, lastEventID string) Identifiers {
	ids := Identifiers{LastEventID: lastEventID}
	for _, k := range []string{"event_ulid", "ulid"} {
		if s, ok := payload[k].(string); ok && s != "" {
			ids.ULID = s
			break
		}
	}
	for _, k := range []string{"event_id", "id"} {
		if s := scalar(payload[k]); s != "" {
			ids.EventID = s
			break
		}
	}
	return ids
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	}
	return ""
}
