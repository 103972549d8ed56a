package output

import (
	"fmt"
	"io"
	"time"

	"github.com/gtmills/ensuressl/internal/sslkey"
)

type Data struct {
	GeneratedAt time.Time
	Reports     []*sslkey.Report
}

type Formatter interface {
	Format(w io.Writer, data Data) error
}

func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "table":
		return &TableFormatter{}, nil
	case "json":
		return &JSONFormatter{}, nil
	case "csv":
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func verdict(r *sslkey.Report) string {
	if r.Valid {
		return "valid"
	}
	return "invalid"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
