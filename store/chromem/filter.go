package chromem

import (
	"reflect"
	"strings"
	"time"

	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/store"
)

func matchesAll(props map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		if !matches(props, f) {
			return false
		}
	}
	return true
}

// matches evaluates one filter. A missing property only satisfies
// NotEqual.
func matches(props map[string]any, f store.Filter) bool {
	got, ok := props[f.Property]
	if !ok || got == nil {
		return f.Operator == store.OpNotEqual
	}
	cmp, ok := compare(got, f.Value)
	if !ok {
		return f.Operator == store.OpNotEqual
	}
	switch f.Operator {
	case store.OpEqual, "":
		return cmp == 0
	case store.OpNotEqual:
		return cmp != 0
	case store.OpGreaterThan:
		return cmp > 0
	case store.OpGreaterThanEqual:
		return cmp >= 0
	case store.OpLessThan:
		return cmp < 0
	case store.OpLessThanEqual:
		return cmp <= 0
	}
	return false
}

// compare orders two property values. Numbers compare numerically,
// strings lexically (timestamp_utc values sort chronologically), and
// booleans only by equality. ok is false for incomparable values.
func compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func normalize(v any) any {
	if t, ok := v.(time.Time); ok {
		return core.FormatTimestamp(t)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}
