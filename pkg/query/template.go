package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// part is either literal SQL or a named placeholder
type part struct {
	text  string
	param string
	// elem selects one element of a slice argument; -1 binds the whole value
	elem int
	// wrap parenthesizes the placeholder list (a bare "in :names")
	wrap bool
}

// template is SQL with named placeholders, rendered to positional ? markers
// when arguments are known
type template struct {
	parts []part
}

func (t *template) literal(s string) {
	if s == "" {
		return
	}
	if n := len(t.parts); n > 0 && t.parts[n-1].param == "" {
		t.parts[n-1].text += s
		return
	}
	t.parts = append(t.parts, part{text: s})
}

func (t *template) placeholder(name string, elem int, wrap bool) {
	t.parts = append(t.parts, part{param: name, elem: elem, wrap: wrap})
}

func (t *template) empty() bool {
	return len(t.parts) == 0
}

// params returns the distinct placeholder names in sorted order
func (t *template) params() []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range t.parts {
		if p.param != "" && !seen[p.param] {
			seen[p.param] = true
			names = append(names, p.param)
		}
	}
	sort.Strings(names)
	return names
}

// render writes the SQL, expanding slice arguments into placeholder lists.
// An empty slice renders as NULL so "in (NULL)" matches nothing.
func (t *template) render(method string, args Args) (string, []any, error) {
	var sql strings.Builder
	var out []any
	for _, p := range t.parts {
		if p.param == "" {
			sql.WriteString(p.text)
			continue
		}

		value, ok := args[p.param]
		if !ok {
			return "", nil, &BindingError{Method: method, Missing: []string{p.param}}
		}

		if p.elem >= 0 {
			items, isList := listValue(value)
			if !isList || p.elem >= len(items) {
				return "", nil, &BindingError{Method: method,
					Reason: fmt.Sprintf("parameter %s needs at least %d values", p.param, p.elem+1)}
			}
			sql.WriteString("?")
			out = append(out, items[p.elem])
			continue
		}

		items, isList := listValue(value)
		if !isList {
			if p.wrap {
				sql.WriteString("(?)")
			} else {
				sql.WriteString("?")
			}
			out = append(out, value)
			continue
		}

		list := "NULL"
		if len(items) > 0 {
			list = strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ")
			out = append(out, items...)
		}
		if p.wrap {
			list = "(" + list + ")"
		}
		sql.WriteString(list)
	}
	return sql.String(), out, nil
}

// listValue unpacks slice and array arguments; byte slices are scalar values
func listValue(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if _, isBytes := value.([]byte); isBytes {
		return nil, false
	}
	if items, ok := value.([]any); ok {
		return items, true
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, true
}
