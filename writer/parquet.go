package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

// WriteParquet materializes frame as a Parquet file at path, preserving
// column order and nullability. The file goes through the same
// tmp-then-rename sequence as the CSV path; parquet-go owns the tmp file
// handle, so fsync happens inside its WriteStop.
func WriteParquet(path string, frame *common.Frame, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &bioetlerrors.WriteError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}

	fail := func(err error) error {
		_ = fw.Close()
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}

	md := make([]string, len(frame.Columns))
	for i, col := range frame.Columns {
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", col)
	}

	pw, err := writer.NewCSVWriter(md, fw, 2)
	if err != nil {
		return fail(err)
	}

	for _, row := range frame.Rows {
		rec := make([]*string, len(frame.Columns))
		for i, col := range frame.Columns {
			v := row.Get(col)
			if v.IsNull() {
				continue
			}
			cell := FormatScalar(v, s)
			rec[i] = &cell
		}
		if err := pw.WriteString(rec); err != nil {
			return fail(err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fail(err)
	}
	if err := fw.Close(); err != nil {
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: path, Err: err}
	}
	return nil
}
