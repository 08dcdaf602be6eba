package extraction

import (
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/phrazzld/medstock-api/internal/domain"
)

// Sanitize parses a raw model response into canonical attributes.
//
// It returns ErrParse when no JSON object can be recovered, an
// *IdentificationError when the object carries a non-empty "error" field,
// and ErrNoUsefulInfo when no allow-listed field has a usable value.
func Sanitize(raw string) (domain.MedicineAttributes, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return domain.MedicineAttributes{}, err
	}

	fields := obj.Map()

	if v, ok := fields["error"]; ok {
		if msg, ok := scalarText(v); ok && msg != "" {
			return domain.MedicineAttributes{}, &IdentificationError{Message: msg}
		}
	}

	var attrs domain.MedicineAttributes
	for _, spec := range coercionTable {
		v, ok := fields[spec.name]
		if !ok || v == nil || v.Null() == nil {
			continue
		}

		val, ok := scalar(v)
		if !ok {
			continue
		}

		switch spec.kind {
		case kindNumber:
			if f, ok := coerceNumber(val); ok {
				spec.setNumber(&attrs, f)
			}
		case kindText:
			if s, ok := coerceText(val); ok && s != "" {
				spec.setText(&attrs, s)
			}
		}
	}

	if attrs.IsEmpty() {
		return domain.MedicineAttributes{}, ErrNoUsefulInfo
	}
	return attrs, nil
}

func scalarText(v *jason.Value) (string, bool) {
	if v == nil || v.Null() == nil {
		return "", false
	}
	if s, err := v.String(); err == nil {
		return strings.TrimSpace(s), true
	}
	if obj, err := v.Object(); err == nil {
		if msg, err := obj.GetString("message"); err == nil {
			return strings.TrimSpace(msg), true
		}
		return "unrecognized error object", true
	}
	val, ok := scalar(v)
	if !ok {
		return "", false
	}
	return coerceText(val)
}

// scalar unwraps a JSON number, string or boolean. Objects, arrays and
// null are rejected.
func scalar(v *jason.Value) (any, bool) {
	if n, err := v.Number(); err == nil {
		return n, true
	}
	if s, err := v.String(); err == nil {
		return s, true
	}
	if b, err := v.Boolean(); err == nil {
		return b, true
	}
	return nil, false
}

// parseObject parses text as a JSON object, falling back to the first
// balanced {...} substring that parses.
func parseObject(raw string) (*jason.Object, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}

	if obj, err := jason.NewObjectFromBytes([]byte(text)); err == nil {
		return obj, nil
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := balancedEnd(text, start)
		if end < 0 {
			break
		}
		if obj, err := jason.NewObjectFromBytes([]byte(text[start : end+1])); err == nil {
			return obj, nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	return nil, fmt.Errorf("%w: no JSON object found", ErrParse)
}

// balancedEnd returns the index of the brace closing the one at start,
// skipping braces inside string literals, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
