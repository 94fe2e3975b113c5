package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitQuotedList splits in at every occurrence of sep that is not inside
// an area surrounded by the quote character. Each element is unquoted with
// Unquote. An empty input returns an empty list.
func SplitQuotedList(in string, quote, sep rune) ([]string, error) {
	raw, err := splitQuotedRaw(in, quote, sep)
	if err != nil {
		return nil, err
	}
	for i := range raw {
		raw[i] = Unquote(raw[i], quote)
	}
	return raw, nil
}

// splitQuotedRaw splits in at unquoted occurrences of sep, leaving quotes
// and escapes in place.
func splitQuotedRaw(in string, quote, sep rune) ([]string, error) {
	if strings.TrimSpace(in) == "" {
		return []string{}, nil
	}
	r := []string{}
	start := 0
	quoted, escaped := false, false
	for i, ch := range in {
		switch {
		case escaped:
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == quote:
			quoted = !quoted
		case !quoted && ch == sep:
			r = append(r, in[start:i])
			start = i + utf8.RuneLen(ch)
		}
	}
	if quoted || escaped {
		return nil, fmt.Errorf("unterminated quote in %q", in)
	}
	return append(r, in[start:]), nil
}

// indexUnquoted returns the index of the first occurrence of target in s
// that is not inside quotes, or -1.
func indexUnquoted(s string, quote, target rune) int {
	quoted, escaped := false, false
	for i, ch := range s {
		switch {
		case escaped:
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == quote:
			quoted = !quoted
		case !quoted && ch == target:
			return i
		}
	}
	return -1
}

// Unquote removes the quote characters and backslash escapes of quoted
// areas of s. Whitespace at either end of the result is removed unless it
// was quoted.
func Unquote(s string, quote rune) string {
	var out []rune
	var fromQuote []bool
	quoted, escaped := false, false
	for _, ch := range s {
		switch {
		case escaped:
			escaped = false
		case quoted && ch == '\\':
			escaped = true
			continue
		case ch == quote:
			quoted = !quoted
			continue
		}
		out = append(out, ch)
		fromQuote = append(fromQuote, quoted)
	}
	trimmable := func(i int) bool { return !fromQuote[i] && unicode.IsSpace(out[i]) }
	start, end := 0, len(out)
	for start < end && trimmable(start) {
		start++
	}
	for end > start && trimmable(end-1) {
		end--
	}
	return string(out[start:end])
}

// ConfigureList writes every field of conf (a pointer to a struct) that
// has a tag named tag, one per line, as "name<TAB>value".
func ConfigureList(w io.Writer, conf interface{}, tag string) {
	it := newConfigIterator(conf, tag)
	for it.Next() {
		name, field := it.Field()
		fmt.Fprintf(w, "%s\t%v\n", name, fieldValue(field))
	}
}

type configIterator struct {
	v   reflect.Value
	t   reflect.Type
	tag string
	i   int
}

func newConfigIterator(conf interface{}, tag string) *configIterator {
	v := reflect.ValueOf(conf).Elem()
	return &configIterator{v: v, t: v.Type(), tag: tag, i: -1}
}

func (it *configIterator) Next() bool {
	for it.i++; it.i < it.t.NumField(); it.i++ {
		if name, _ := it.name(); name != "" && name != "-" {
			return true
		}
	}
	return false
}

func (it *configIterator) name() (string, bool) {
	tag := it.t.Field(it.i).Tag.Get(it.tag)
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag, tag != ""
}

func (it *configIterator) Field() (string, reflect.Value) {
	name, _ := it.name()
	return name, it.v.Field(it.i)
}

func fieldValue(field reflect.Value) interface{} {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return "<not defined>"
		}
		return field.Elem()
	}
	return field
}
