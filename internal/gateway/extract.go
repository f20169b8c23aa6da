package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// accountPaths are tried in order against each upstream payload
var accountPaths = []string{
	"$.account_id",
	"$.accountId",
	"$.account.id",
	"$.alpaca_account_id",
	"$.data.account_id",
}

// AccountID returns the account an upstream payload refers to, or "" when
// none of the known locations holds one.
func AccountID(payload map[string]any) string {
	for _, path := range accountPaths {
		v, err := jsonpath.Get(path, payload)
		if err != nil {
			continue
		}
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				continue
			}
			v = list[0]
		}
		switch x := v.(type) {
		case string:
			if x != "" {
				return x
			}
		case json.Number:
			return x.String()
		case float64:
			return fmt.Sprintf("%.0f", x)
		}
	}
	return ""
}
