package scenario

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/supperclub/clubdesk/internal/booking"
)

// Expand replaces placeholders in s:
//   - {{name}} from scenario variables and captured values
//   - {{env.NAME}} from the environment
//   - {{date}} and {{date+N}} as YYYY-MM-DD, N days after now
func Expand(s string, vars map[string]string, now time.Time) (string, error) {
	result := s
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			return result, nil
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated template expression at position %d", start)
		}
		end += start + 2

		value, err := resolve(strings.TrimSpace(result[start+2:end-2]), vars, now)
		if err != nil {
			return "", err
		}
		result = result[:start] + value + result[end:]
	}
}

func resolve(expr string, vars map[string]string, now time.Time) (string, error) {
	if key, ok := strings.CutPrefix(expr, "env."); ok {
		return os.Getenv(key), nil
	}
	if rest, ok := strings.CutPrefix(expr, "date"); ok {
		days := 0
		if rest != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(rest, "+"))
			if err != nil || !strings.HasPrefix(rest, "+") {
				return "", fmt.Errorf("invalid date expression %q (expected date or date+N)", expr)
			}
			days = n
		}
		return now.AddDate(0, 0, days).Format(booking.DateLayout), nil
	}
	if val, ok := vars[expr]; ok {
		return val, nil
	}
	return "", fmt.Errorf("unresolved template expression: %q", expr)
}
