package output

import (
	"encoding/csv"
	"fmt"
	"io"
)

type CSVFormatter struct{}

func (c *CSVFormatter) Format(w io.Writer, data Data) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"Path",
		"Verdict",
		"FailureKind",
		"Reason",
		"Size",
		"SHA256",
		"KeyType",
		"KeyBits",
		"KeyCheck",
		"Serial",
		"Subject",
		"Issuer",
		"NotBefore",
		"NotAfter",
		"SignatureAlgorithm",
	}

	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range data.Reports {
		row := []string{
			r.Path,
			verdict(r),
			r.Kind,
			r.Reason,
			fmt.Sprintf("%d", r.Size),
			r.SHA256,
			string(r.KeyType),
			fmt.Sprintf("%d", r.KeyBits),
			r.KeyCheck,
			r.Serial,
			r.Subject,
			r.Issuer,
			formatTime(r.NotBefore),
			formatTime(r.NotAfter),
			r.SigAlg,
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}
