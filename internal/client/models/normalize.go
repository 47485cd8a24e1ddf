package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dmitrijs2005/gophsync/internal/client/schema"
	"github.com/dmitrijs2005/gophsync/internal/common"
)

// Normalize converts logical fields of collection c to their canonical Go
// types. Missing fields get zero values. Unknown fields are an error when
// strict is set and dropped otherwise, so records written by newer clients
// still apply.
func Normalize(c *schema.Collection, guid string, in Fields, strict bool) (Fields, error) {
	names := c.FieldNames()
	out := make(Fields, len(names))

	if strict {
		for k := range in {
			if _, ok := c.FieldKind(k); !ok || c.IsHint(k) {
				return nil, &common.ValidationError{GUID: guid, Field: k, Reason: "unknown field"}
			}
			if _, ok := c.SensitiveByColumn(k); ok {
				return nil, &common.ValidationError{GUID: guid, Field: k, Reason: "envelope columns are not writable"}
			}
		}
	}

	for _, name := range names {
		kind, _ := c.FieldKind(name)
		v, err := normalizeValue(kind, in[name])
		if err != nil {
			return nil, &common.ValidationError{GUID: guid, Field: name, Reason: err.Error()}
		}
		out[name] = v
	}

	for _, col := range c.Columns {
		if !col.Required {
			continue
		}
		if v, ok := out[col.Name]; ok && v == "" {
			return nil, &common.ValidationError{GUID: guid, Field: col.Name, Reason: "required"}
		}
	}

	return out, nil
}

func normalizeValue(kind schema.Kind, v any) (any, error) {
	switch kind {
	case schema.Integer:
		return toInt64(v)
	case schema.JSON:
		return canonicalJSON(v)
	default:
		return toText(v)
	}
}

func toText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("expected text, got %T", v)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		if x == "" {
			return 0, nil
		}
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// canonicalJSON re-encodes v so that equal documents compare equal as
// strings (encoding/json sorts object keys).
func canonicalJSON(v any) (string, error) {
	var doc any
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		if x == "" {
			return "", nil
		}
		if err := json.Unmarshal([]byte(x), &doc); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
	case []byte:
		if len(x) == 0 {
			return "", nil
		}
		if err := json.Unmarshal(x, &doc); err != nil {
			return "", fmt.Errorf("invalid JSON: %w", err)
		}
	default:
		doc = x
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
