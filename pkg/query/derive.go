package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Action is the statement a derived method issues
type Action int

const (
	ActionFind Action = iota
	ActionCount
	ActionExists
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCount:
		return "count"
	case ActionExists:
		return "exists"
	case ActionDelete:
		return "delete"
	default:
		return "find"
	}
}

var actionPrefixes = []struct {
	prefix string
	action Action
}{
	{"find", ActionFind},
	{"read", ActionFind},
	{"get", ActionFind},
	{"query", ActionFind},
	{"search", ActionFind},
	{"stream", ActionFind},
	{"count", ActionCount},
	{"exists", ActionExists},
	{"delete", ActionDelete},
	{"remove", ActionDelete},
}

// Comparator is the predicate keyword of one derived clause
type Comparator int

const (
	CompEqual Comparator = iota
	CompNot
	CompGreaterThan
	CompGreaterThanEqual
	CompLessThan
	CompLessThanEqual
	CompBetween
	CompIn
	CompNotIn
	CompLike
	CompNotLike
	CompStartingWith
	CompEndingWith
	CompContaining
	CompIsNull
	CompIsNotNull
	CompTrue
	CompFalse
)

// comparatorKeywords is ordered longest first so suffix matching is greedy
var comparatorKeywords = []struct {
	keyword string
	comp    Comparator
}{
	{"GreaterThanEqual", CompGreaterThanEqual},
	{"LessThanEqual", CompLessThanEqual},
	{"StartingWith", CompStartingWith},
	{"GreaterThan", CompGreaterThan},
	{"IsNotNull", CompIsNotNull},
	{"Containing", CompContaining},
	{"EndingWith", CompEndingWith},
	{"LessThan", CompLessThan},
	{"Between", CompBetween},
	{"NotLike", CompNotLike},
	{"NotNull", CompIsNotNull},
	{"Equals", CompEqual},
	{"Before", CompLessThan},
	{"IsNull", CompIsNull},
	{"After", CompGreaterThan},
	{"False", CompFalse},
	{"NotIn", CompNotIn},
	{"Like", CompLike},
	{"Null", CompIsNull},
	{"True", CompTrue},
	{"Not", CompNot},
	{"In", CompIn},
	{"Is", CompEqual},
}

// takesArgument reports whether the comparator binds a parameter
func (c Comparator) takesArgument() bool {
	switch c {
	case CompIsNull, CompIsNotNull, CompTrue, CompFalse:
		return false
	default:
		return true
	}
}

// Clause is one field comparison of a derived predicate
type Clause struct {
	// Raw is the clause text as written in the method name ("AgeGreaterThan")
	Raw string
	// Field is the property name with the comparator removed ("age")
	Field      string
	Comparator Comparator
}

// DerivedQuery is the parsed form of a derived method name
type DerivedQuery struct {
	Action   Action
	Distinct bool
	// Limit is the First/Top row limit, zero when absent
	Limit int
	// Predicate is a disjunction of conjunctions: Or splits groups, And splits clauses
	Predicate [][]Clause
	Orders    []Order
}

// ParseMethod parses a derived method name such as
// findDistinctTop3ByUsernameAndAgeGreaterThanOrderByAgeDesc
func ParseMethod(method string) (*DerivedQuery, error) {
	fail := func(format string, args ...any) error {
		return &QueryError{Method: method, Reason: fmt.Sprintf(format, args...)}
	}

	q := &DerivedQuery{}
	rest := ""
	matched := false
	for _, p := range actionPrefixes {
		if strings.HasPrefix(method, p.prefix) && (len(method) == len(p.prefix) || isUpper(method, len(p.prefix))) {
			q.Action = p.action
			rest = method[len(p.prefix):]
			matched = true
			break
		}
	}
	if !matched {
		return nil, fail("method name does not start with a query prefix")
	}

	// Subject runs up to the first By; the predicate follows it
	byIdx := keywordIndex(rest, "By")
	subject, predicate := rest, ""
	if byIdx >= 0 {
		subject, predicate = rest[:byIdx], rest[byIdx+2:]
	}
	if err := q.parseSubject(subject); err != nil {
		return nil, fail("%v", err)
	}

	if orderIdx := keywordIndex(predicate, "OrderBy"); orderIdx >= 0 {
		orders, err := parseOrders(predicate[orderIdx+len("OrderBy"):])
		if err != nil {
			return nil, fail("%v", err)
		}
		q.Orders = orders
		predicate = predicate[:orderIdx]
	}

	if predicate == "" {
		if byIdx >= 0 && len(q.Orders) == 0 {
			return nil, fail("By is not followed by a predicate")
		}
		return q, nil
	}

	for _, group := range splitKeyword(predicate, "Or") {
		var clauses []Clause
		for _, raw := range splitKeyword(group, "And") {
			if raw == "" {
				return nil, fail("empty clause in predicate %q", predicate)
			}
			clauses = append(clauses, parseClause(raw))
		}
		q.Predicate = append(q.Predicate, clauses)
	}
	return q, nil
}

func (q *DerivedQuery) parseSubject(subject string) error {
	if strings.Contains(subject, "Distinct") {
		q.Distinct = true
	}
	for _, kw := range []string{"First", "Top"} {
		idx := strings.Index(subject, kw)
		if idx < 0 {
			continue
		}
		digits := subject[idx+len(kw):]
		end := 0
		for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
			end++
		}
		// A bare First or Top means one row; only a capital or the end may follow
		if end < len(digits) && !isUpper(digits, end) {
			continue
		}
		q.Limit = 1
		if end > 0 {
			n, err := strconv.Atoi(digits[:end])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid row limit %q", digits[:end])
			}
			q.Limit = n
		}
		break
	}
	if q.Limit > 0 && q.Action != ActionFind {
		return fmt.Errorf("row limit only applies to find methods")
	}
	return nil
}

func parseClause(raw string) Clause {
	for _, kw := range comparatorKeywords {
		if !strings.HasSuffix(raw, kw.keyword) || len(raw) == len(kw.keyword) {
			continue
		}
		field := raw[:len(raw)-len(kw.keyword)]
		// AgeIsGreaterThan is AgeGreaterThan
		if kw.keyword != "Is" && strings.HasSuffix(field, "Is") && len(field) > 2 {
			field = field[:len(field)-2]
		}
		return Clause{Raw: lowerFirst(raw), Field: lowerFirst(field), Comparator: kw.comp}
	}
	return Clause{Raw: lowerFirst(raw), Field: lowerFirst(raw), Comparator: CompEqual}
}

func parseOrders(s string) ([]Order, error) {
	if s == "" {
		return nil, fmt.Errorf("OrderBy is not followed by a property")
	}
	var orders []Order
	for s != "" {
		asc := keywordSuffixIndex(s, "Asc")
		desc := keywordSuffixIndex(s, "Desc")
		switch {
		case asc < 0 && desc < 0:
			orders = append(orders, Order{Field: lowerFirst(s), Direction: Asc})
			s = ""
		case desc >= 0 && (asc < 0 || desc < asc):
			if desc == 0 {
				return nil, fmt.Errorf("sort direction without property")
			}
			orders = append(orders, Order{Field: lowerFirst(s[:desc]), Direction: Desc})
			s = s[desc+len("Desc"):]
		default:
			if asc == 0 {
				return nil, fmt.Errorf("sort direction without property")
			}
			orders = append(orders, Order{Field: lowerFirst(s[:asc]), Direction: Asc})
			s = s[asc+len("Asc"):]
		}
	}
	return orders, nil
}

// keywordIndex finds kw where it starts a new word: it must be followed by an
// upper-case letter
func keywordIndex(s, kw string) int {
	for from := 0; from < len(s); {
		idx := strings.Index(s[from:], kw)
		if idx < 0 {
			return -1
		}
		idx += from
		if isUpper(s, idx+len(kw)) {
			return idx
		}
		from = idx + 1
	}
	return -1
}

// keywordSuffixIndex finds kw where it ends a word: it must be followed by an
// upper-case letter or the end of s
func keywordSuffixIndex(s, kw string) int {
	for from := 0; from < len(s); {
		idx := strings.Index(s[from:], kw)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(kw)
		if end == len(s) || isUpper(s, end) {
			return idx
		}
		from = idx + 1
	}
	return -1
}

// splitKeyword splits s on kw occurrences that start a new word
func splitKeyword(s, kw string) []string {
	var parts []string
	for {
		idx := keywordIndex(s, kw)
		// The keyword must follow a non-empty part
		for idx == 0 {
			next := keywordIndex(s[1:], kw)
			if next < 0 {
				idx = -1
				break
			}
			idx = next + 1
		}
		if idx < 0 {
			return append(parts, s)
		}
		parts = append(parts, s[:idx])
		s = s[idx+len(kw):]
	}
}

func isUpper(s string, i int) bool {
	return i < len(s) && unicode.IsUpper(rune(s[i]))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
