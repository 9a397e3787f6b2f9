package exchange

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Sheet is one entity's rows as read from an archive, before coercion.
type Sheet struct {
	Entity string
	Header []string
	Rows   [][]string
}

// WriteSheet writes records as CSV: the canonical column keys, then one
// line per record in declared column order.
func WriteSheet(w io.Writer, def *entity.Definition, records []entity.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(def.ColumnNames()); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(rec.Row(def)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSheet parses CSV data. A leading BOM is dropped and invalid UTF-8 is
// replaced rather than rejected. Rows may be shorter or longer than the
// header.
func ReadSheet(r io.Reader, entityName string) (Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet %s: %w", entityName, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, []byte("\uFFFD"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return Sheet{}, fmt.Errorf("parse sheet %s: %w", entityName, err)
	}

	sheet := Sheet{Entity: entityName}
	if len(rows) == 0 {
		return sheet, nil
	}
	sheet.Header = rows[0]
	sheet.Rows = rows[1:]
	return sheet, nil
}

// ReadSheetFile reads the sheet stored at path.
func ReadSheetFile(path, entityName string) (sheet Sheet, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Sheet{}, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return ReadSheet(f, entityName)
}
