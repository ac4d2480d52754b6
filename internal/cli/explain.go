package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
)

type explainOptions struct {
	Mapping    string
	Entity     string
	Method     string
	Query      string
	CountQuery string
	Shape      string
	Lock       string
	Graph      []string
	ReadOnly   bool
	Args       []string
	Sort       []string
	Page       int
	Size       int
}

type explainResult struct {
	Entity    string   `json:"entity"`
	Method    string   `json:"method,omitempty"`
	Origin    string   `json:"origin"`
	Shape     string   `json:"shape"`
	Params    []string `json:"params"`
	SQL       string   `json:"sql"`
	Args      []any    `json:"args"`
	CountSQL  string   `json:"count_sql,omitempty"`
	CountArgs []any    `json:"count_args,omitempty"`
}

func newExplainCommand(out io.Writer, globals *globalOptions) *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Translate a repository query method to SQL",
		Example: "  persistctl explain --mapping mapping.yaml --entity Member --method findByUsernameAndAgeGreaterThan --arg username=ann --arg age=30\n" +
			"  persistctl explain --mapping mapping.yaml --entity Member --query 'select m from Member m join fetch m.team' --shape list\n" +
			"  persistctl explain --mapping mapping.yaml --entity Member --method findByAgeGreaterThan --shape page --page 1 --size 20 --sort username:desc --arg age=18",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("explain does not accept positional arguments")
			}
			if opts.Mapping == "" {
				cfg, err := loadConfig(globals)
				if err != nil {
					return err
				}
				opts.Mapping = cfg.Mapping
			}
			if opts.Mapping == "" {
				return usageErrorf("a mapping document is required (--mapping or mapping in the config)")
			}
			if opts.Entity == "" {
				return usageErrorf("--entity is required")
			}
			if opts.Method == "" && opts.Query == "" {
				return usageErrorf("one of --method or --query is required")
			}

			result, err := explain(opts)
			if err != nil {
				return mapCommandError(err)
			}
			if globals.JSON {
				return printJSON(out, result)
			}
			return mapCommandError(printExplain(out, result))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Mapping, "mapping", "", "YAML mapping document")
	flags.StringVar(&opts.Entity, "entity", "", "Root entity name")
	flags.StringVar(&opts.Method, "method", "", "Repository method name (derived or named query)")
	flags.StringVar(&opts.Query, "query", "", "Explicit query text")
	flags.StringVar(&opts.CountQuery, "count-query", "", "Count query text of a page result")
	flags.StringVar(&opts.Shape, "shape", "auto", "Result shape: auto, single, list, page, slice, scalar, count, exists, modifying")
	flags.StringVar(&opts.Lock, "lock", "", "Row lock: shared or exclusive")
	flags.StringSliceVar(&opts.Graph, "graph", nil, "Entity graph association to fetch")
	flags.BoolVar(&opts.ReadOnly, "read-only", false, "Apply the read-only hint")
	flags.StringArrayVar(&opts.Args, "arg", nil, "Named argument as name=value; comma separated values bind a list")
	flags.StringArrayVar(&opts.Sort, "sort", nil, "Sort order as field[:asc|:desc]")
	flags.IntVar(&opts.Page, "page", 0, "Zero-based page index")
	flags.IntVar(&opts.Size, "size", 0, "Page size; zero leaves the query unpaged")
	return cmd
}

func explain(opts *explainOptions) (*explainResult, error) {
	doc, err := mapping.LoadDocumentFile(opts.Mapping)
	if err != nil {
		return nil, err
	}
	registry := mapping.NewRegistry()
	if err := registry.RegisterDocument(doc, nil); err != nil {
		return nil, fmt.Errorf("register mapping: %w", err)
	}

	shape, err := query.ParseShape(opts.Shape)
	if err != nil {
		return nil, usageErrorf("%v", err)
	}
	lock, err := query.ParseLockMode(opts.Lock)
	if err != nil {
		return nil, usageErrorf("%v", err)
	}
	args, err := parseArgs(opts.Args)
	if err != nil {
		return nil, err
	}
	page, err := parsePage(opts)
	if err != nil {
		return nil, err
	}

	prepared, err := query.NewTranslator(registry).Prepare(query.Descriptor{
		Entity:     opts.Entity,
		Method:     opts.Method,
		Query:      opts.Query,
		CountQuery: opts.CountQuery,
		Shape:      shape,
		Lock:       lock,
		Hints:      query.Hints{ReadOnly: opts.ReadOnly, EntityGraph: opts.Graph},
	})
	if err != nil {
		return nil, err
	}
	stmt, err := prepared.Bind(args, page)
	if err != nil {
		return nil, err
	}

	result := &explainResult{
		Entity: opts.Entity,
		Method: opts.Method,
		Origin: prepared.Origin().String(),
		Shape:  prepared.Shape().String(),
		Params: prepared.Params(),
		SQL:    stmt.SQL,
		Args:   stmt.Args,
	}
	if stmt.Count != nil {
		result.CountSQL = stmt.Count.SQL
		result.CountArgs = stmt.Count.Args
	}
	return result, nil
}

func printExplain(w io.Writer, r *explainResult) error {
	lines := []string{
		fmt.Sprintf("origin=%s shape=%s params=%s", r.Origin, r.Shape, strings.Join(r.Params, ",")),
		"sql:   " + r.SQL,
		fmt.Sprintf("args:  %v", r.Args),
	}
	if r.CountSQL != "" {
		lines = append(lines,
			"count: "+r.CountSQL,
			fmt.Sprintf("args:  %v", r.CountArgs),
		)
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func parseArgs(raw []string) (query.Args, error) {
	args := query.Args{}
	for _, item := range raw {
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, usageErrorf("argument %q must be name=value", item)
		}
		if _, dup := args[name]; dup {
			return nil, usageErrorf("argument %q given twice", name)
		}
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			list := make([]any, 0, len(parts))
			for _, p := range parts {
				list = append(list, parseScalar(strings.TrimSpace(p)))
			}
			args[name] = list
			continue
		}
		args[name] = parseScalar(value)
	}
	return args, nil
}

// parseScalar reads integers, floats and booleans; anything else stays a string
func parseScalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func parsePage(opts *explainOptions) (*query.Pageable, error) {
	if opts.Size == 0 && len(opts.Sort) == 0 {
		return nil, nil
	}
	page := &query.Pageable{Page: opts.Page, Size: opts.Size}
	for _, item := range opts.Sort {
		field, dir, _ := strings.Cut(item, ":")
		order := query.Order{Field: strings.TrimSpace(field), Direction: query.Asc}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			order.Direction = query.Desc
		default:
			return nil, usageErrorf("sort direction of %q must be asc or desc", field)
		}
		if order.Field == "" {
			return nil, usageErrorf("sort order %q names no field", item)
		}
		page.Sort.Orders = append(page.Sort.Orders, order)
	}
	return page, nil
}
