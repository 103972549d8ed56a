package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gtmills/ensuressl/internal/sslkey"
)

type JSONFormatter struct{}

type JSONOutput struct {
	Timestamp time.Time        `json:"timestamp"`
	Reports   []*sslkey.Report `json:"reports"`
	Summary   struct {
		Total   int `json:"total"`
		Valid   int `json:"valid"`
		Invalid int `json:"invalid"`
	} `json:"summary"`
}

func (j *JSONFormatter) Format(w io.Writer, data Data) error {
	output := JSONOutput{
		Timestamp: data.GeneratedAt,
		Reports:   data.Reports,
	}
	if output.Timestamp.IsZero() {
		output.Timestamp = time.Now()
	}
	if output.Reports == nil {
		output.Reports = []*sslkey.Report{}
	}

	for _, r := range data.Reports {
		if r.Valid {
			output.Summary.Valid++
		} else {
			output.Summary.Invalid++
		}
	}
	output.Summary.Total = len(data.Reports)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
