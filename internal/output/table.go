package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

type TableFormatter struct{}

func (t *TableFormatter) Format(w io.Writer, data Data) error {
	for i, r := range data.Reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", r.Path)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Field", "Value"})
		table.SetBorder(false)
		table.SetCenterSeparator("|")
		table.SetColumnSeparator("|")
		table.SetRowSeparator("-")
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoWrapText(false)

		rows := [][]string{
			{"Verdict", verdict(r)},
			{"Size", fmt.Sprintf("%d", r.Size)},
			{"SHA-256", r.SHA256},
			{"Key Type", string(r.KeyType)},
			{"Key Bits", fmt.Sprintf("%d", r.KeyBits)},
			{"Key Check", r.KeyCheck},
			{"Serial", r.Serial},
			{"Subject", r.Subject},
			{"Issuer", r.Issuer},
			{"Not Before", formatTime(r.NotBefore)},
			{"Not After", formatTime(r.NotAfter)},
			{"Signature", r.SigAlg},
		}
		if !r.Valid {
			rows = append(rows, []string{"Failure", r.Kind}, []string{"Reason", r.Reason})
		}
		table.AppendBulk(rows)
		table.Render()
	}

	// Summary
	valid := 0
	for _, r := range data.Reports {
		if r.Valid {
			valid++
		}
	}
	fmt.Fprintf(w, "\n%d of %d file(s) valid\n", valid, len(data.Reports))

	return nil
}
