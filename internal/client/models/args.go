package models

import (
	"errors"
	"strings"
)

var ErrIncorrectField = errors.New("field must be name=value")

// ParseFieldArgs turns CLI arguments of the form name=value into Fields.
// Values stay strings; Normalize converts them later.
func ParseFieldArgs(args []string) (Fields, error) {
	fields := make(Fields, len(args))
	for _, item := range args {
		name, value, ok := strings.Cut(item, "=")
		if !ok || name == "" {
			return nil, ErrIncorrectField
		}
		fields[name] = value
	}
	return fields, nil
}
