package schema

import (
	"strconv"
	"strings"

	"bioetl.dev/bioetl/common"
)

// Coerce converts every typed column of frame to its declared value
// type. JSON decoding cannot distinguish 10.0 from 10, so numeric
// columns arrive with whatever width the payload happened to use; the
// declared type settles it. Unparseable values are left untouched for
// the validators to flag. Coerce is idempotent.
func Coerce(frame *common.Frame, reg common.SchemaRegistration) {
	if len(reg.Types) == 0 {
		return
	}
	for _, row := range frame.Rows {
		for col, t := range reg.Types {
			if !row.Has(col) {
				continue
			}
			v := row.Get(col)
			if v.IsNull() {
				continue
			}
			if coerced, ok := coerceScalar(v, t); ok {
				row.Set(col, coerced)
			}
		}
	}
}

func coerceScalar(v common.Scalar, t string) (common.Scalar, bool) {
	switch t {
	case "int64":
		switch v.Kind {
		case common.ScalarInt:
			return v, false
		case common.ScalarFloat:
			if v.Float == float64(int64(v.Float)) {
				return common.NewInt(int64(v.Float)), true
			}
		case common.ScalarString:
			if n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64); err == nil {
				return common.NewInt(n), true
			}
		}
	case "float64":
		switch v.Kind {
		case common.ScalarFloat:
			return v, false
		case common.ScalarInt:
			return common.NewFloat(float64(v.Int)), true
		case common.ScalarString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return common.NewFloat(f), true
			}
		}
	case "bool":
		switch v.Kind {
		case common.ScalarBool:
			return v, false
		case common.ScalarString:
			if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v.Str))); err == nil {
				return common.NewBool(b), true
			}
		}
	case "string":
		switch v.Kind {
		case common.ScalarInt, common.ScalarFloat, common.ScalarBool:
			return common.NewString(v.AsString()), true
		}
	}
	return v, false
}
