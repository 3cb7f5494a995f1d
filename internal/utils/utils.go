package utils

import (
	"strings"

	"github.com/fatih/structs"
)

// FieldTagNames returns the names set in the passed tag for the passed
// fields. Options after a comma are dropped, fields without the tag or
// with "-" are skipped.
func FieldTagNames(fields []*structs.Field, tag string) (names []string) {
	for _, f := range fields {
		if f == nil {
			continue
		}
		t := f.Tag(tag)
		if t == "" || t == "-" {
			continue
		}
		if i := strings.IndexByte(t, ','); i >= 0 {
			t = t[:i]
		}
		if t == "" {
			continue
		}
		names = append(names, t)
	}
	return
}

// FirstNonEmpty returns the first of the passed strings that is not empty
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
