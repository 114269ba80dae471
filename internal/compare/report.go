package compare

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// maxReportRows caps the rows rendered per result in text reports.
const maxReportRows = 50

// WriteText renders results as tables, one per failing service.
func WriteText(w io.Writer, results []Result) error {
	for _, r := range results {
		if !r.Failed() {
			fmt.Fprintf(w, "%s: ok (%d outputs)\n", r.Service, r.Compared)
			continue
		}
		fmt.Fprintf(w, "%s: %d differences\n", r.Service, len(r.Diffs))

		table := tablewriter.NewWriter(w)
		table.Header("Index", "Topic", "Path", "Kind", "Want", "Got")
		rows := r.Diffs
		if len(rows) > maxReportRows {
			rows = rows[:maxReportRows]
		}
		for _, d := range rows {
			idx := strconv.Itoa(d.Index)
			if d.Index < 0 {
				idx = "-"
			}
			if err := table.Append(idx, d.Topic, d.Path, d.Kind, d.Want, d.Got); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		if extra := len(r.Diffs) - len(rows); extra > 0 {
			fmt.Fprintf(w, "... %d more\n", extra)
		}
	}
	return nil
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
