package writer

import (
	"os"
	"path/filepath"

	bioetlerrors "bioetl.dev/bioetl/errors"
)

// WriteAtomic materializes payload at path through the tmp-fsync-rename
// sequence: no reader ever observes a partial file, and a crash leaves
// at most a stale .tmp that the next run overwrites. On any failure the
// .tmp file is removed before the error propagates.
func WriteAtomic(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &bioetlerrors.WriteError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}

	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}

	if _, err := f.Write(payload); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &bioetlerrors.WriteError{Path: path, Err: err}
	}
	return nil
}
