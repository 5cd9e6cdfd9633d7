package contract

import (
	"strconv"
	"strings"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// Coerce converts a resolved value to the declared type of param. It never
// fails: input that does not fit the type falls back to its text, except for
// booleans, where anything other than "true" becomes false. An absent or
// unknown type leaves the value as it is.
func Coerce(raw value.Value, param *ParamDef) value.Value {
	if raw.IsNull() || param == nil {
		return raw
	}
	text := raw.Text()

	switch param.Type {
	case TypeString:
		return value.String(text)

	case TypeNumber, TypeInteger:
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return value.String(text)
			}
			return value.Float(f)
		}
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return value.String(text)
		}
		return value.Int(i)

	case TypeBoolean:
		return value.Bool(strings.EqualFold(text, "true"))

	case TypeObject, TypeArray:
		if raw.Kind() == value.KindObject || raw.Kind() == value.KindArray {
			return raw
		}
		parsed, err := value.ParseString(text)
		if err != nil {
			return value.String(text)
		}
		return parsed

	default:
		return raw
	}
}
