// Package merge decides how one incoming record is reconciled with the
// local copy, given the mirror as common ancestor. It is pure: callers load
// the inputs and apply the Outcome.
//
// All Fields handed to Merge must be logical (sensitive values revealed)
// and normalized, so field values compare with ==.
package merge

import (
	"reflect"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/schema"
)

type Action int

const (
	// ActionNone leaves everything as is.
	ActionNone Action = iota
	// ActionInsert stores the incoming record with a zero counter.
	ActionInsert
	// ActionReplace overwrites a clean local record with the incoming one.
	ActionReplace
	// ActionMerge writes the field-level merge result. Dirty tells whether
	// the record keeps its change counter.
	ActionMerge
	// ActionDelete removes the local record, its tombstone and its mirror
	// row without writing a new tombstone.
	ActionDelete
	// ActionKeepLocal keeps a locally modified record against a remote
	// deletion; the mirror row is dropped so the record is uploaded again.
	ActionKeepLocal
	// ActionKeepTombstone keeps a local deletion the remote has not
	// contradicted; it is uploaded as usual.
	ActionKeepTombstone
	// ActionUndelete drops the local tombstone and inserts the incoming
	// record, because the remote changed it after we last saw it.
	ActionUndelete
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionInsert:
		return "insert"
	case ActionReplace:
		return "replace"
	case ActionMerge:
		return "merge"
	case ActionDelete:
		return "delete"
	case ActionKeepLocal:
		return "keep-local"
	case ActionKeepTombstone:
		return "keep-tombstone"
	case ActionUndelete:
		return "undelete"
	}
	return "unknown"
}

type Input struct {
	GUID     string
	Strategy schema.Strategy
	// LogField is the append-only field of Log collections.
	LogField string

	// Local is nil when there is no live local record.
	Local          *models.Record
	LocalTombstone bool
	// Mirror is nil when the server copy was never seen or was dropped.
	Mirror   *models.Payload
	Incoming *models.Payload
}

type Outcome struct {
	Action Action
	// Fields is the resulting local record for Insert, Replace, Merge and
	// Undelete.
	Fields           models.Fields
	TimeCreated      int64
	TimeLastModified int64
	// Dirty means the local record still differs from the incoming one and
	// keeps its change counter. Clean results get a zero counter.
	Dirty bool
	// LocalWins lists fields where the local value was kept over a
	// different incoming value.
	LocalWins []string
}

// Merge reconciles in.Incoming with the local state.
func Merge(in Input) Outcome {
	if in.Incoming.Deleted {
		return mergeDeletion(in)
	}

	switch {
	case in.LocalTombstone:
		if in.Mirror != nil && !in.Mirror.Deleted && samePayload(in.Mirror, in.Incoming) {
			return Outcome{Action: ActionKeepTombstone}
		}
		return take(ActionUndelete, in)
	case in.Local == nil:
		return take(ActionInsert, in)
	case in.Local.ChangeCounter == 0:
		return take(ActionReplace, in)
	}
	return threeWay(in)
}

func mergeDeletion(in Input) Outcome {
	if in.Local != nil && in.Local.ChangeCounter > 0 {
		return Outcome{
			Action:           ActionKeepLocal,
			Fields:           in.Local.Fields.Clone(),
			TimeCreated:      in.Local.TimeCreated,
			TimeLastModified: in.Local.TimeLastModified,
			Dirty:            true,
		}
	}
	if in.Local == nil && !in.LocalTombstone && in.Mirror == nil {
		return Outcome{Action: ActionNone}
	}
	return Outcome{Action: ActionDelete}
}

func take(action Action, in Input) Outcome {
	out := Outcome{
		Action:           action,
		Fields:           in.Incoming.Fields.Clone(),
		TimeCreated:      in.Incoming.TimeCreated,
		TimeLastModified: in.Incoming.TimeLastModified,
	}
	if in.Local != nil {
		out.TimeCreated = earliest(in.Local.TimeCreated, in.Incoming.TimeCreated)
		out.TimeLastModified = max(in.Local.TimeLastModified, in.Incoming.TimeLastModified)
	}
	if out.Fields == nil {
		out.Fields = models.Fields{}
	}
	return out
}

func threeWay(in Input) Outcome {
	local := in.Local.Fields
	incoming := in.Incoming.Fields
	var mirror models.Fields
	if in.Mirror != nil && !in.Mirror.Deleted {
		mirror = in.Mirror.Fields
	}

	out := Outcome{
		Action:           ActionMerge,
		Fields:           make(models.Fields, len(local)),
		TimeCreated:      earliest(in.Local.TimeCreated, in.Incoming.TimeCreated),
		TimeLastModified: max(in.Local.TimeLastModified, in.Incoming.TimeLastModified),
	}

	for _, k := range fieldKeys(local, incoming) {
		if in.Strategy == schema.Log && k == in.LogField {
			v, extra := unionLog(local.String(k), incoming.String(k))
			out.Fields[k] = v
			if extra {
				out.Dirty = true
			}
			continue
		}

		l, i := local[k], incoming[k]
		switch {
		case equal(l, i):
			out.Fields[k] = l
		case mirror != nil && equal(l, mirror[k]):
			// changed remotely only
			out.Fields[k] = i
		default:
			// changed locally only, changed on both sides, or no ancestor
			out.Fields[k] = l
			out.Dirty = true
			out.LocalWins = append(out.LocalWins, k)
		}
	}

	return out
}

func fieldKeys(maps ...models.Fields) []string {
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)
	return keys
}

func samePayload(a, b *models.Payload) bool {
	if a.Deleted != b.Deleted {
		return false
	}
	for _, k := range fieldKeys(a.Fields, b.Fields) {
		if !equal(a.Fields[k], b.Fields[k]) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func earliest(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}
