package helpers

import (
	"errors"
	"strings"
)

// ExtractJSON returns the first balanced JSON object or array in a model
// reply. A leading ``` or ~~~ fence is unwrapped first; brackets inside
// strings are ignored.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := stripFence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if out, ok := balancedFrom(s, i); ok {
			return out, nil
		}
	}
	return "", errors.New("no balanced JSON object/array found")
}

func stripFence(s string) (string, bool) {
	fence := ""
	switch {
	case strings.HasPrefix(s, "```"):
		fence = "```"
	case strings.HasPrefix(s, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := s[len(fence):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}
	rest = rest[nl+1:]
	if end := strings.Index(rest, fence); end >= 0 {
		return rest[:end], true
	}
	return rest, true
}

func balancedFrom(s string, start int) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
