package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

func (r *Reader) readDelimited(content []byte, sep rune) ([]Sample, error) {
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	cr.Comma = sep
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited: %w", err)
	}
	return r.parseRows(rows)
}
