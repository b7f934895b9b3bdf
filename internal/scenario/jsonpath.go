package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// Lookup evaluates a dotted path such as "reservation.id" or "data[0].id"
// against a decoded JSON document. A leading "$." is allowed.
func Lookup(doc any, path string) (any, bool) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	current := doc
	if path == "" {
		return current, true
	}
	for _, seg := range strings.Split(path, ".") {
		field, index, hasIndex := strings.Cut(seg, "[")
		if field != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			if current, ok = m[field]; !ok {
				return nil, false
			}
		}
		if !hasIndex {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSuffix(index, "]"))
		if err != nil {
			return nil, false
		}
		arr, ok := current.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil, false
		}
		current = arr[i]
	}
	return current, true
}

// text renders a JSON scalar the way scenario files write it.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
