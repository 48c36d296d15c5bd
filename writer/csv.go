package writer

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"bioetl.dev/bioetl/common"
)

// EncodeCSV serializes frame as UTF-8 RFC-4180 CSV with "\n" line
// terminators, fixed float formatting and the configured NA
// representation.
func EncodeCSV(frame *common.Frame, s Settings) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(frame.Columns); err != nil {
		return nil, err
	}
	record := make([]string, len(frame.Columns))
	for _, row := range frame.Rows {
		for i, col := range frame.Columns {
			record[i] = FormatScalar(row.Get(col), s)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatScalar renders one value for CSV output: floats at the
// configured precision, booleans as true/false, nulls as the configured
// NA representation.
func FormatScalar(v common.Scalar, s Settings) string {
	switch v.Kind {
	case common.ScalarNull:
		return s.NARepresentation
	case common.ScalarInt:
		return fmt.Sprintf("%d", v.Int)
	case common.ScalarFloat:
		return fmt.Sprintf("%.*f", s.FloatPrecision, v.Float)
	case common.ScalarBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return v.Str
	}
}
