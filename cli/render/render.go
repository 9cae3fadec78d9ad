// Package render writes command output as json, yaml or a table.
//
// When --format is not given, a terminal gets a table and anything else gets
// json. --no-color only affects table headers.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. An empty string means "pick a
// default".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Tabular is implemented by views that know their own columns. Anything
// else is tabulated by reflection over its fields.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a renderer from the --format and --no-color flags,
// writing to the app's writer (stdout unless a test swaps it).
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		if IsTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}
	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter builds a renderer on an explicit writer.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format reports the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderTable(data any) error {
	if t, ok := data.(Tabular); ok {
		return r.writeTable(t.Headers(), t.Rows())
	}
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			_, err := fmt.Fprintln(r.out, "(no results)")
			return err
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return r.renderSlice(v)
	case reflect.Struct:
		return r.renderFields(v)
	case reflect.Map:
		return r.renderMap(v)
	default:
		_, err := fmt.Fprintf(r.out, "%v\n", data)
		return err
	}
}

func (r *Renderer) writeTable(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	out := buf.String()
	// Style the header after alignment so escape codes do not count toward
	// column widths.
	if len(headers) > 0 && !r.noColor {
		head, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(head) + "\n" + rest
	}
	_, err := io.WriteString(r.out, out)
	return err
}

func (r *Renderer) renderSlice(v reflect.Value) error {
	if v.Len() == 0 {
		return r.writeTable(nil, nil)
	}
	elem := indirect(v.Index(0))
	if elem.Kind() != reflect.Struct {
		rows := make([][]string, v.Len())
		for i := range v.Len() {
			rows[i] = []string{formatValue(v.Index(i))}
		}
		return r.writeTable(nil, rows)
	}
	fields := visibleFields(elem.Type())
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = fieldName(f)
	}
	rows := make([][]string, v.Len())
	for i := range v.Len() {
		row := indirect(v.Index(i))
		rows[i] = make([]string, len(fields))
		for j, f := range fields {
			if row.IsValid() {
				rows[i][j] = formatValue(row.FieldByIndex(f.Index))
			}
		}
	}
	return r.writeTable(headers, rows)
}

func (r *Renderer) renderFields(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, f := range visibleFields(v.Type()) {
		fmt.Fprintf(w, "%s:\t%s\n", fieldName(f), formatValue(v.FieldByIndex(f.Index)))
	}
	return w.Flush()
}

func (r *Renderer) renderMap(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	iter := v.MapRange()
	for iter.Next() {
		fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
	}
	return w.Flush()
}

func visibleFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous || f.Tag.Get("json") == "-" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

var timeType = reflect.TypeFor[time.Time]()

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// IsTTY reports whether f is a character device.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
