package dispatch

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/standardbeagle/climcp/internal/tools"
)

// validate checks args against spec. Undeclared arguments are ignored and an
// explicit null counts as absent.
func validate(spec tools.Spec, args map[string]interface{}) *RequestError {
	for _, p := range spec.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return InvalidArgument(spec.Name, p.Name, "required parameter is missing")
			}
			continue
		}
		if !matches(p.Type, v) {
			return InvalidArgument(spec.Name, p.Name,
				fmt.Sprintf("expected %s, got %s", p.Type, kindOf(v)))
		}
	}
	return nil
}

func matches(t tools.ParamType, v interface{}) bool {
	switch t {
	case tools.TypeString:
		_, ok := v.(string)
		return ok
	case tools.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case tools.TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case tools.TypeArray:
		_, ok := v.([]interface{})
		return ok
	case tools.TypeNumber:
		_, ok := AsFloat(v)
		return ok
	case tools.TypeInteger:
		f, ok := AsFloat(v)
		return ok && !math.IsInf(f, 0) && f == math.Trunc(f)
	}
	return false
}

// AsFloat converts any numeric argument value to float64.
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	if f, ok := AsFloat(v); ok {
		if f == math.Trunc(f) {
			return "integer"
		}
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
