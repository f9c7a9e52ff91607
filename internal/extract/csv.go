package extract

import (
	"bytes"
	"encoding/csv"

	"github.com/rotisserie/eris"

	"github.com/caflow/cma-engine/internal/model"
)

// ParseCSV parses a CSV export into a canonical document using the same row
// heuristics as the Excel parser.
func ParseCSV(data []byte, fileName string) (*model.CanonicalDocument, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse csv %s", fileName)
	}

	doc := parseRows(rows, fileName, "")
	doc.Metadata.Parser = "csv"
	if len(doc.LineItems) == 0 {
		return nil, eris.Errorf("extract: no line items found in %s", fileName)
	}
	return doc, nil
}
