// Package schema describes the record collections stored locally: their
// columns, which fields are sensitive, and how incoming changes are merged.
//
// Every collection owns five tables named after Collection.Table:
//
//	<t>_data                  live records
//	<t>_mirror                last known server copy of each record
//	<t>_tombstones            locally deleted guids awaiting upload
//	<t>_sync_staging          incoming envelopes of the running sync
//	<t>_sync_outgoing_staging outgoing payloads of the running sync
package schema

import (
	"fmt"
	"slices"
)

type Kind int

const (
	Text Kind = iota
	Integer
	// JSON columns hold canonical JSON text.
	JSON
)

type Column struct {
	Name     string
	Kind     Kind
	Required bool
}

// SensitiveField maps a logical plaintext field onto the column holding its
// encrypted envelope. HintColumn, when set, keeps the last HintLen
// characters of the plaintext for display.
type SensitiveField struct {
	Field      string
	Column     string
	HintColumn string
	HintLen    int
}

// MaxHintLen bounds every plaintext hint.
const MaxHintLen = 4

type Strategy int

const (
	// Document merges records field by field.
	Document Strategy = iota
	// Tree is Document plus parent validation after the merge.
	Tree
	// Log is Document except the log field, which is merged as a union.
	Log
)

func (s Strategy) String() string {
	switch s {
	case Document:
		return "document"
	case Tree:
		return "tree"
	case Log:
		return "log"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

type Collection struct {
	// Name is the collection name on the server.
	Name      string
	Table     string
	Columns   []Column
	Sensitive []SensitiveField
	Strategy  Strategy
	// LogField names the append-only field of a Log collection.
	LogField string
}

func (c *Collection) DataTable() string      { return c.Table + "_data" }
func (c *Collection) MirrorTable() string    { return c.Table + "_mirror" }
func (c *Collection) TombstoneTable() string { return c.Table + "_tombstones" }
func (c *Collection) StagingTable() string   { return c.Table + "_sync_staging" }
func (c *Collection) OutgoingTable() string  { return c.Table + "_sync_outgoing_staging" }
func (c *Collection) HasSensitive() bool     { return len(c.Sensitive) > 0 }
func (c *Collection) Column(name string) (Column, bool) {
	i := slices.IndexFunc(c.Columns, func(col Column) bool { return col.Name == name })
	if i < 0 {
		return Column{}, false
	}
	return c.Columns[i], true
}

// ColumnNames lists the stored field columns in declaration order.
func (c *Collection) ColumnNames() []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names
}

// SensitiveByColumn finds the sensitive field stored in column.
func (c *Collection) SensitiveByColumn(column string) (SensitiveField, bool) {
	for _, s := range c.Sensitive {
		if s.Column == column {
			return s, true
		}
	}
	return SensitiveField{}, false
}

// SensitiveByField finds the sensitive field by its logical name.
func (c *Collection) SensitiveByField(field string) (SensitiveField, bool) {
	for _, s := range c.Sensitive {
		if s.Field == field {
			return s, true
		}
	}
	return SensitiveField{}, false
}

// IsHint reports whether column is derived from a sensitive field.
func (c *Collection) IsHint(column string) bool {
	for _, s := range c.Sensitive {
		if s.HintColumn != "" && s.HintColumn == column {
			return true
		}
	}
	return false
}

// FieldNames lists the logical fields exchanged with the server: stored
// columns with envelope columns replaced by their plaintext names and hint
// columns left out.
func (c *Collection) FieldNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		if c.IsHint(col.Name) {
			continue
		}
		if s, ok := c.SensitiveByColumn(col.Name); ok {
			names = append(names, s.Field)
			continue
		}
		names = append(names, col.Name)
	}
	return names
}

// FieldKind returns the kind of a logical field.
func (c *Collection) FieldKind(field string) (Kind, bool) {
	if s, ok := c.SensitiveByField(field); ok {
		field = s.Column
	}
	col, ok := c.Column(field)
	return col.Kind, ok
}

func (c *Collection) validate() error {
	if c.Name == "" || c.Table == "" {
		return fmt.Errorf("collection needs a name and a table")
	}
	for _, s := range c.Sensitive {
		if _, ok := c.Column(s.Column); !ok {
			return fmt.Errorf("%s: sensitive column %s not declared", c.Name, s.Column)
		}
		if s.HintColumn != "" {
			if _, ok := c.Column(s.HintColumn); !ok {
				return fmt.Errorf("%s: hint column %s not declared", c.Name, s.HintColumn)
			}
			if s.HintLen <= 0 || s.HintLen > MaxHintLen {
				return fmt.Errorf("%s: hint length %d out of range", c.Name, s.HintLen)
			}
		}
	}
	if c.Strategy == Log {
		col, ok := c.Column(c.LogField)
		if !ok || col.Kind != JSON {
			return fmt.Errorf("%s: log field %q must be a JSON column", c.Name, c.LogField)
		}
	}
	return nil
}
