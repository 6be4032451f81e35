package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"destination": {},
	"phone":       {},
	"msisdn":      {},
	"wa_id":       {},
}

// MaskDestination redacts a phone number keeping the country prefix and the last four digits.
func MaskDestination(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix := ""
	rest := trimmed
	if strings.HasPrefix(rest, "+") {
		prefix = "+"
		rest = rest[1:]
	}
	if len(rest) <= 6 {
		return prefix + maskToken
	}
	return prefix + rest[:2] + maskToken + rest[len(rest)-4:]
}

// MaskJSON returns a copy of the input with destination-like values masked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
			return MaskDestination(cast)
		}
		return cast
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
