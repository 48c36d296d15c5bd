package common

import "sort"

// Frame is an ordered collection of Records that share the same column
// order: an explicit []*Record plus the shared Columns slice that every
// Record is expected to match. Frames are what the pipeline stages pass
// between extract, transform, validate and write.
type Frame struct {
	Columns []string
	Rows    []*Record
}

// NewFrame creates an empty Frame with the given column order.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// Append adds a row to the Frame. If the Frame has no columns yet, it
// adopts the row's column order; otherwise the row is reshaped (via
// AlignTo) to match the Frame's existing order.
func (f *Frame) Append(r *Record) {
	if len(f.Columns) == 0 {
		f.Columns = append([]string(nil), r.Columns...)
		f.Rows = append(f.Rows, r)
		return
	}
	f.Rows = append(f.Rows, r.AlignTo(f.Columns))
}

// AlignTo returns a copy of r whose Columns exactly match the given order,
// filling any column absent from r with Null and dropping any column of r
// not present in order.
func (r *Record) AlignTo(order []string) *Record {
	out := &Record{
		Columns: append([]string(nil), order...),
		values:  make(map[string]Scalar, len(order)),
	}
	for _, c := range order {
		out.values[c] = r.Get(c)
	}
	return out
}

// Len returns the number of rows in the Frame.
func (f *Frame) Len() int { return len(f.Rows) }

// AddColumn appends a new column to every row of the Frame, populated by
// fn(row, rowIndex). AddColumn is the primitive behind derived fields
// like hash_business_key, hash_row, and the merge policy's
// "<field>_source" provenance columns.
func (f *Frame) AddColumn(name string, fn func(r *Record, idx int) Scalar) {
	hasColumn := false
	for _, c := range f.Columns {
		if c == name {
			hasColumn = true
			break
		}
	}
	if !hasColumn {
		f.Columns = append(f.Columns, name)
	}
	for i, r := range f.Rows {
		r.Set(name, fn(r, i))
	}
}

// RenameColumn renames a column across the Frame's order and every row.
func (f *Frame) RenameColumn(from, to string) {
	for i, c := range f.Columns {
		if c == from {
			f.Columns[i] = to
		}
	}
	for _, r := range f.Rows {
		if !r.Has(from) {
			continue
		}
		v := r.Get(from)
		delete(r.values, from)
		for i, c := range r.Columns {
			if c == from {
				r.Columns[i] = to
			}
		}
		r.values[to] = v
	}
}

// Select projects the Frame down to the given column subset, preserving
// the order given.
func (f *Frame) Select(columns ...string) *Frame {
	out := NewFrame(columns...)
	for _, r := range f.Rows {
		out.Rows = append(out.Rows, r.AlignTo(columns))
	}
	return out
}

// SortBy performs a stable sort of the Frame's rows by the given
// columns, ascending. Stability matters: ties must resolve the same way
// across identical runs.
func (f *Frame) SortBy(columns ...string) {
	sort.SliceStable(f.Rows, func(i, j int) bool {
		a, b := f.Rows[i], f.Rows[j]
		for _, c := range columns {
			av, bv := a.Get(c), b.Get(c)
			cmp := compareScalar(av, bv)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// compareScalar orders Scalars within a single sort key: null sorts first;
// other values compare by their AsString rendering, so kind is not
// considered and numbers order lexically.
func compareScalar(a, b Scalar) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	as, bs := a.AsString(), b.AsString()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Clone returns a deep copy of the Frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{Columns: append([]string(nil), f.Columns...)}
	out.Rows = make([]*Record, len(f.Rows))
	for i, r := range f.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Concat appends other's rows onto f, aligning them to f's column
// order.
func (f *Frame) Concat(other *Frame) {
	for _, r := range other.Rows {
		f.Append(r)
	}
}
