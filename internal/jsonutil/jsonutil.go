// Package jsonutil formats values for terminal output.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// MarshalCompactPretty formats each field of struct v as a "name: value" line with color information.
// Fields are sorted by name.
func MarshalCompactPretty(v any) ([]byte, error) {
	return MarshalMapPretty(structs.Map(v))
}

// MarshalMapPretty formats each key of m as a "key: value" line, sorted by key.
func MarshalMapPretty[V any](m map[string]V) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, name := range names {
		b, err := formatter.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
