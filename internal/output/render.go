package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/panbanda/embargo/pkg/models"
)

// heading writes title underlined with rule.
func heading(w io.Writer, title string, rule byte, colored bool, attrs ...color.Attribute) {
	if colored {
		color.New(attrs...).Fprintln(w, title)
	} else {
		fmt.Fprintln(w, title)
	}
	fmt.Fprintln(w, strings.Repeat(string(rule), len(title)))
}

// Table is a titled table. Data, when set, replaces the rows in machine
// formats.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Data    any
}

// NewTable creates a table that wraps structured data for serialization.
func NewTable(title string, headers []string, rows [][]string, data any) *Table {
	return &Table{Title: title, Headers: headers, Rows: rows, Data: data}
}

func (t *Table) RenderData() any {
	if t.Data != nil {
		return t.Data
	}
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		m := make(map[string]string, len(t.Headers))
		for j, h := range t.Headers {
			if j < len(row) {
				m[h] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

func (t *Table) RenderText(w io.Writer, colored bool) error {
	if t.Title != "" {
		heading(w, t.Title, '-', colored, color.Bold)
	}

	left := tw.CellAlignment{Global: tw.AlignLeft}
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  left,
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
			},
			Row: tw.CellConfig{Alignment: left},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.Off},
			},
		}),
	)
	table.Header(t.Headers)
	for _, row := range t.Rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func (t *Table) RenderMarkdown(w io.Writer) error {
	if t.Title != "" {
		fmt.Fprintf(w, "## %s\n\n", t.Title)
	}
	row := func(cells []string) {
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	row(t.Headers)
	seps := make([]string, len(t.Headers))
	for i := range seps {
		seps[i] = "---"
	}
	row(seps)
	for _, r := range t.Rows {
		row(r)
	}
	_, err := fmt.Fprintln(w)
	return err
}

// List is a titled bullet list.
type List struct {
	Title string   `json:"title"`
	Items []string `json:"items"`
}

func (l *List) RenderData() any { return l }

func (l *List) RenderText(w io.Writer, colored bool) error {
	heading(w, l.Title, '-', colored, color.Bold)
	for _, item := range l.Items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
	return nil
}

func (l *List) RenderMarkdown(w io.Writer) error {
	fmt.Fprintf(w, "## %s\n\n", l.Title)
	for _, item := range l.Items {
		fmt.Fprintf(w, "- %s\n", item)
	}
	_, err := fmt.Fprintln(w)
	return err
}

// Report is a titled sequence of parts separated by blank lines.
type Report struct {
	Title string
	Parts []Renderable
}

func (r *Report) RenderData() any {
	parts := make([]any, len(r.Parts))
	for i, p := range r.Parts {
		parts[i] = p.RenderData()
	}
	return map[string]any{"title": r.Title, "sections": parts}
}

func (r *Report) RenderText(w io.Writer, colored bool) error {
	if r.Title != "" {
		heading(w, r.Title, '=', colored, color.Bold, color.FgCyan)
		fmt.Fprintln(w)
	}
	for i, p := range r.Parts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := p.RenderText(w, colored); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) RenderMarkdown(w io.Writer) error {
	if r.Title != "" {
		fmt.Fprintf(w, "# %s\n\n", r.Title)
	}
	for _, p := range r.Parts {
		if err := p.RenderMarkdown(w); err != nil {
			return err
		}
	}
	return nil
}

// ConfidenceColor colors text by edge confidence tier.
func ConfidenceColor(c models.Confidence, text string) string {
	switch c {
	case models.ConfidenceExact, models.ConfidenceHigh:
		return color.GreenString(text)
	case models.ConfidenceMedium:
		return color.YellowString(text)
	case models.ConfidenceLow:
		return color.RedString(text)
	default:
		return text
	}
}
