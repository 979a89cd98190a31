package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// UnlinkedColumns is the header row written by WriteUnlinked.
var UnlinkedColumns = []string{
	"activity code",
	"activity name",
	"kind",
	"input code",
	"name",
	"unit",
	"location",
	"reference product",
	"categories",
	"amount",
}

// UnlinkedExchange is one exchange left unresolved after matching.
type UnlinkedExchange struct {
	ActivityCode string   `json:"activity_code"`
	ActivityName string   `json:"activity_name"`
	Exchange     Exchange `json:"-"`
}

// Unlinked lists the unresolved exchanges in record order.
func (i *Importer) Unlinked() []UnlinkedExchange {
	var out []UnlinkedExchange
	for r := range i.records {
		record := &i.records[r]
		for _, e := range record.Exchanges {
			if e.Linked() {
				continue
			}
			out = append(out, UnlinkedExchange{
				ActivityCode: record.Activity.Code,
				ActivityName: record.Activity.Name,
				Exchange:     e,
			})
		}
	}
	return out
}

// WriteUnlinked writes the unresolved exchanges as CSV with a header row.
// Categories are joined with "::".
func (i *Importer) WriteUnlinked(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(UnlinkedColumns); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for n, u := range i.Unlinked() {
		row := []string{
			u.ActivityCode,
			u.ActivityName,
			u.Exchange.Type,
			u.Exchange.InputCode,
			u.Exchange.Name,
			u.Exchange.Unit,
			u.Exchange.Location,
			u.Exchange.ReferenceProduct,
			strings.Join(u.Exchange.Categories, "::"),
			strconv.FormatFloat(u.Exchange.Amount, 'g', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", n, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}
