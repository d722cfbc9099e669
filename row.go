package rwconn

import "strings"

// columns is shared by every Row of one result set.
type columns struct {
	names []string
	// index maps each column name, plus the lowercase alias of names that
	// are not lowercase, to its position. Original names win over aliases.
	index map[string]int
}

func newColumns(names []string) *columns {
	c := &columns{
		names: names,
		index: make(map[string]int, 2*len(names)),
	}

	for i, n := range names {
		if _, ok := c.index[n]; !ok {
			c.index[n] = i
		}
	}
	for i, n := range names {
		l := strings.ToLower(n)
		if l == n {
			continue
		}
		if _, ok := c.index[l]; !ok {
			c.index[l] = i
		}
	}

	return c
}

// Row is one fetched row. Values keep column order; lookups by name also
// accept the lowercase form of any column name.
type Row struct {
	cols *columns
	vals []interface{}
}

// NewRow builds a Row from parallel column names and values.
func NewRow(names []string, vals []interface{}) *Row {
	return &Row{
		cols: newColumns(names),
		vals: vals,
	}
}

// Columns returns the column names in result order.
func (r *Row) Columns() []string {
	if r == nil {
		return nil
	}
	return r.cols.names
}

// Values returns the values in column order.
func (r *Row) Values() []interface{} {
	if r == nil {
		return nil
	}
	return r.vals
}

// Get returns the value of the named column or of a column whose
// lowercase form is name.
func (r *Row) Get(name string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.cols.index[name]
	if !ok {
		return nil, false
	}
	return r.vals[i], true
}

// Value is Get without the presence flag.
func (r *Row) Value(name string) interface{} {
	v, _ := r.Get(name)
	return v
}

// First returns the value of the first column.
func (r *Row) First() interface{} {
	if r == nil || len(r.vals) == 0 {
		return nil
	}
	return r.vals[0]
}

// Map returns the row keyed by column name, lowercase aliases included.
func (r *Row) Map() map[string]interface{} {
	if r == nil {
		return nil
	}
	m := make(map[string]interface{}, len(r.cols.index))
	for name, i := range r.cols.index {
		m[name] = r.vals[i]
	}
	return m
}

// ResultSet is an ordered list of rows sharing the same columns.
type ResultSet []*Row
