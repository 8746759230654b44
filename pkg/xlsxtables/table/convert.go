package table

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
)

// ErrConversion indicates a cell value cannot be read as the requested type.
var ErrConversion = errors.New("cannot convert cell value")

// FieldConverter converts cell text of declared types that are not built in.
// FromString returning a nil value means the text cannot be converted.
type FieldConverter interface {
	FromString(typ, text string) (any, error)
	ToString(typ string, v any) (string, error)
}

// ConverterFuncs adapts a pair of functions to FieldConverter. A nil
// function converts nothing.
type ConverterFuncs struct {
	From func(typ, text string) (any, error)
	To   func(typ string, v any) (string, error)
}

func (c ConverterFuncs) FromString(typ, text string) (any, error) {
	if c.From == nil {
		return nil, nil
	}
	return c.From(typ, text)
}

func (c ConverterFuncs) ToString(typ string, v any) (string, error) {
	if c.To == nil {
		return "", fmt.Errorf("%w: no string form for type %q", ErrConversion, typ)
	}
	return c.To(typ, v)
}

const msgEmpty = "cell must not be empty"

// parseValue coerces raw cell text into the built-in type typ.
func parseValue(typ string, raw *string) (any, string) {
	if raw == nil || *raw == "" {
		return nil, msgEmpty
	}
	text := *raw
	switch typ {
	case schema.TypeString:
		return text, ""
	case schema.TypeBoolean:
		t := strings.TrimSpace(text)
		switch {
		case strings.EqualFold(t, "true"):
			return true, ""
		case strings.EqualFold(t, "false"):
			return false, ""
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f > 0, ""
		}
		return nil, "cell value must be 'boolean' type"
	case schema.TypeNumber:
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return f, ""
		}
		return nil, "cell value must be 'number' type"
	}
	return nil, fmt.Sprintf("cell value has unknown type '%s'", typ)
}

// convertValue parses a cell and falls back to conv for text the built-in
// types reject.
func convertValue(typ string, raw *string, conv FieldConverter) (any, string) {
	v, msg := parseValue(typ, raw)
	if msg == "" || conv == nil {
		return v, msg
	}
	text := ""
	if raw != nil {
		text = *raw
	}
	v, err := callConverter(conv, typ, text)
	switch {
	case v != nil:
		return v, ""
	case err != nil:
		return nil, err.Error()
	case text != "":
		return nil, "cell value cannot convert to null"
	}
	return nil, msg
}

func callConverter(conv FieldConverter, typ, text string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("field converter panicked: %v", r)
		}
	}()
	return conv.FromString(typ, text)
}

// coerce converts a parsed cell value v of declared type typ to t.
func coerce(v any, typ string, t reflect.Type, conv FieldConverter) (any, error) {
	if v == nil {
		return reflect.Zero(t).Interface(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, nil
	}
	if t.Kind() == reflect.Interface && rv.Type().Implements(t) {
		return v, nil
	}
	if t.Kind() == reflect.String {
		s, err := formatValue(v, typ, conv)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(s).Convert(t).Interface(), nil
	}

	switch src := v.(type) {
	case float64:
		if out, ok := fromFloat(src, t); ok {
			return out.Interface(), nil
		}
	case bool:
		f := 0.0
		if src {
			f = 1
		}
		if t.Kind() == reflect.Bool {
			return reflect.ValueOf(src).Convert(t).Interface(), nil
		}
		if out, ok := fromFloat(f, t); ok {
			return out.Interface(), nil
		}
	case string:
		if out, ok := fromString(src, t); ok {
			return out.Interface(), nil
		}
	}
	if rv.Type().ConvertibleTo(t) && rv.Kind() != reflect.String {
		return rv.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("%w: %T to %s", ErrConversion, v, t)
}

// formatValue renders a parsed value as text.
func formatValue(v any, typ string, conv FieldConverter) (string, error) {
	switch src := v.(type) {
	case string:
		return src, nil
	case float64:
		return strconv.FormatFloat(src, 'f', -1, 64), nil
	case bool:
		return strings.ToLower(strconv.FormatBool(src)), nil
	}
	if conv != nil {
		return conv.ToString(typ, v)
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", fmt.Errorf("%w: %T to string", ErrConversion, v)
}

func fromFloat(f float64, t reflect.Type) (reflect.Value, bool) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		out.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		r := math.RoundToEven(f)
		if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 || out.OverflowInt(int64(r)) {
			return out, false
		}
		out.SetInt(int64(r))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		r := math.RoundToEven(f)
		if math.IsNaN(r) || r < 0 || r >= math.MaxUint64 || out.OverflowUint(uint64(r)) {
			return out, false
		}
		out.SetUint(uint64(r))
	case reflect.Bool:
		out.SetBool(f != 0)
	default:
		return out, false
	}
	return out, true
}

func fromString(s string, t reflect.Type) (reflect.Value, bool) {
	s = strings.TrimSpace(s)
	if t.Kind() == reflect.Bool {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(b).Convert(t), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return reflect.Value{}, false
	}
	return fromFloat(f, t)
}
