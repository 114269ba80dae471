// Package compare diffs captured service outputs against a reference run.
package compare

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Flatten turns an output into leaf values keyed by dotted path:
// logMonoTime, valid, then <topic>.<field>... for the body. Raw bodies are
// hex encoded under <topic>.raw and bus frames appear as <topic>.frames.N.*.
func Flatten(o domain.Output) map[string]any {
	out := map[string]any{
		"logMonoTime": o.MonoTime,
		"valid":       o.Valid,
	}
	prefix := o.Topic
	if prefix == "" {
		prefix = "_"
	}

	for k, v := range o.Fields {
		flattenValue(out, prefix+"."+k, v)
	}
	if len(o.Raw) > 0 {
		out[prefix+".raw"] = hex.EncodeToString(o.Raw)
	}
	for i, f := range o.Frames {
		p := prefix + ".frames." + strconv.Itoa(i)
		out[p+".address"] = f.Address
		out[p+".src"] = f.Src
		out[p+".data"] = hex.EncodeToString(f.Data)
	}
	return out
}

func flattenValue(out map[string]any, path string, v any) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			out[path] = t
			return
		}
		for k, vv := range t {
			flattenValue(out, path+"."+k, vv)
		}
	case []any:
		if len(t) == 0 {
			out[path] = t
			return
		}
		for i, vv := range t {
			flattenValue(out, path+"."+strconv.Itoa(i), vv)
		}
	case []byte:
		out[path] = hex.EncodeToString(t)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			for i := 0; i < rv.Len(); i++ {
				flattenValue(out, path+"."+strconv.Itoa(i), rv.Index(i).Interface())
			}
			return
		}
		out[path] = v
	}
}

// Paths returns the sorted keys of a flattened output.
func Paths(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

func render(v any) string {
	if v == nil {
		return "<none>"
	}
	if f, ok := asFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
