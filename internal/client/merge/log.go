package merge

import (
	"cmp"
	"encoding/json"
	"slices"
)

// unionLog merges two JSON arrays as a set. Entries are compared by their
// canonical encoding and the result is ordered newest first when entries
// carry a numeric "date". extra reports whether local held entries the
// incoming side lacks; when it does not, incoming is returned unchanged.
func unionLog(local, incoming string) (string, bool) {
	in := decodeLog(incoming)
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		seen[e.key] = true
	}

	merged := slices.Clone(in)
	extra := false
	for _, e := range decodeLog(local) {
		if seen[e.key] {
			continue
		}
		seen[e.key] = true
		merged = append(merged, e)
		extra = true
	}
	if !extra {
		return incoming, false
	}

	slices.SortStableFunc(merged, func(a, b logEntry) int {
		if c := cmp.Compare(b.date, a.date); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})

	values := make([]any, len(merged))
	for i, e := range merged {
		values[i] = e.value
	}
	out, err := json.Marshal(values)
	if err != nil {
		return incoming, false
	}
	return string(out), true
}

type logEntry struct {
	key   string
	date  float64
	value any
}

// decodeLog tolerates empty or malformed input and treats it as no entries.
func decodeLog(s string) []logEntry {
	if s == "" {
		return nil
	}
	var values []any
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	out := make([]logEntry, 0, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		e := logEntry{key: string(b), value: v}
		if obj, ok := v.(map[string]any); ok {
			e.date, _ = obj["date"].(float64)
		}
		out = append(out, e)
	}
	return out
}
