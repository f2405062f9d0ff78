package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

var (
	okMark   = color.New(color.FgGreen, color.Bold).Sprint("✓")
	failMark = color.New(color.FgRed, color.Bold).Sprint("✗")
)

// Printer writes command results to a writer in a single format. Unknown
// formats render as text.
type Printer struct {
	w    io.Writer
	json bool
}

// NewPrinter returns a Printer for format. A nil writer means stdout.
func NewPrinter(format OutputFormat, w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w, json: format == FormatJSON}
}

// JSON reports whether the printer renders JSON.
func (p *Printer) JSON() bool { return p.json }

// PrintSuccess reports an outcome that went well.
func (p *Printer) PrintSuccess(message string) error {
	return p.status(true, message)
}

// PrintError reports an outcome that did not.
func (p *Printer) PrintError(message string) error {
	return p.status(false, message)
}

func (p *Printer) status(ok bool, message string) error {
	if p.json {
		status := "error"
		if ok {
			status = "success"
		}
		return p.PrintJSON(map[string]string{"status": status, "message": message})
	}
	mark := failMark
	if ok {
		mark = okMark
	}
	_, err := fmt.Fprintln(p.w, mark, message)
	return err
}

// PrintTable renders rows under headers. In JSON mode each row becomes an
// object keyed by header, with missing cells left empty.
func (p *Printer) PrintTable(headers []string, rows [][]string) error {
	if p.json {
		return p.PrintJSON(records(headers, rows))
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	rule := make([]string, len(headers))
	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
		rule[i] = strings.Repeat("-", len(h))
	}
	for _, line := range append([][]string{upper, rule}, rows...) {
		if _, err := fmt.Fprintln(tw, strings.Join(line, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// PrintJSON writes data as indented JSON regardless of format.
func (p *Printer) PrintJSON(data any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func records(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, len(rows))
	for r, row := range rows {
		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		out[r] = rec
	}
	return out
}
