package recordset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type (
	// Kind is the semantic type of a column, inferred from its values.
	Kind int

	Column struct {
		Name string
		Kind Kind
	}

	// RecordSet is an ordered set of rows sharing one column set. Each row is a
	// tuple positionally matched to Columns.
	RecordSet struct {
		columns []Column
		rows    [][]any
	}
)

const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
	KindTimestamp
)

var (
	ErrMissingColumn   = errors.New("missing column")
	ErrRowLength       = errors.New("row length does not match column count")
	ErrDuplicateColumn = errors.New("duplicate column")
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// New builds a RecordSet from column names and positional rows, inferring each
// column's kind and coercing the values to it.
func New(columns []string, rows [][]any) (*RecordSet, error) {
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if seen[col] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, col)
		}
		seen[col] = true
	}

	rs := &RecordSet{
		columns: make([]Column, len(columns)),
		rows:    make([][]any, len(rows)),
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRowLength, i, len(row), len(columns))
		}
		normalized := make([]any, len(row))
		for j, val := range row {
			normalized[j] = normalize(val)
		}
		rs.rows[i] = normalized
	}

	for j, name := range columns {
		kind := rs.inferKind(j)
		rs.columns[j] = Column{Name: name, Kind: kind}
		for _, row := range rs.rows {
			row[j] = coerce(row[j], kind)
		}
	}

	return rs, nil
}

// FromMaps builds a RecordSet from JSON-like row maps. The column set is the union
// of all keys sorted by name; a key absent from a row is null in that row.
func FromMaps(maps []map[string]any) *RecordSet {
	keys := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(keys))
	for k := range keys {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rows := make([][]any, len(maps))
	for i, m := range maps {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = m[col]
		}
		rows[i] = row
	}

	// column names are unique and every row has the right length
	rs, _ := New(columns, rows)
	return rs
}

func (rs *RecordSet) Columns() []Column {
	return append([]Column(nil), rs.columns...)
}

func (rs *RecordSet) ColumnNames() []string {
	names := make([]string, len(rs.columns))
	for i, col := range rs.columns {
		names[i] = col.Name
	}
	return names
}

// Rows returns the underlying rows. Callers must not modify them.
func (rs *RecordSet) Rows() [][]any {
	return rs.rows
}

func (rs *RecordSet) Len() int {
	return len(rs.rows)
}

func (rs *RecordSet) Empty() bool {
	return len(rs.rows) == 0
}

// Column returns the column with the given name.
func (rs *RecordSet) Column(name string) (Column, bool) {
	idx := rs.index(name)
	if idx < 0 {
		return Column{}, false
	}
	return rs.columns[idx], true
}

// RowMap returns row i keyed by column name.
func (rs *RecordSet) RowMap(i int) map[string]any {
	m := make(map[string]any, len(rs.columns))
	for j, col := range rs.columns {
		m[col.Name] = rs.rows[i][j]
	}
	return m
}

// Select returns a RecordSet holding only the named columns, in the given order.
// Kinds are carried over, not re-inferred.
func (rs *RecordSet) Select(names ...string) (*RecordSet, error) {
	idxs := make([]int, len(names))
	var missing []string
	for i, name := range names {
		idxs[i] = rs.index(name)
		if idxs[i] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	out := &RecordSet{
		columns: make([]Column, len(names)),
		rows:    make([][]any, len(rs.rows)),
	}
	for i, idx := range idxs {
		out.columns[i] = rs.columns[idx]
	}
	for r, row := range rs.rows {
		selected := make([]any, len(idxs))
		for i, idx := range idxs {
			selected[i] = row[idx]
		}
		out.rows[r] = selected
	}
	return out, nil
}

// MapText returns a copy with fn applied to every string cell. Other cells are
// copied unchanged.
func (rs *RecordSet) MapText(fn func(string) string) *RecordSet {
	out := &RecordSet{
		columns: rs.Columns(),
		rows:    make([][]any, len(rs.rows)),
	}
	for r, row := range rs.rows {
		mapped := make([]any, len(row))
		for i, val := range row {
			if s, ok := val.(string); ok {
				mapped[i] = fn(s)
			} else {
				mapped[i] = val
			}
		}
		out.rows[r] = mapped
	}
	return out
}

func (rs *RecordSet) index(name string) int {
	for i, col := range rs.columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func (rs *RecordSet) inferKind(j int) Kind {
	var ints, floats, bools, times, nulls int
	for _, row := range rs.rows {
		switch row[j].(type) {
		case nil:
			nulls++
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		}
	}
	nonNull := len(rs.rows) - nulls

	switch {
	case nonNull == 0:
		// all-null columns have no type to go on
		return KindText
	case ints == nonNull && nulls == 0:
		return KindInteger
	case ints+floats == nonNull:
		// an integer column with nulls widens to float, like a dataframe would
		return KindFloat
	case bools == nonNull && nulls == 0:
		return KindBoolean
	case times == nonNull:
		return KindTimestamp
	default:
		return KindText
	}
}

// normalize maps decoded JSON values onto the scalar set the package works with:
// nil, int64, float64, string, bool, time.Time. Nested values become JSON text.
func normalize(val any) any {
	switch v := val.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func coerce(val any, kind Kind) any {
	if val == nil {
		return nil
	}
	switch kind {
	case KindFloat:
		if i, ok := val.(int64); ok {
			return float64(i)
		}
	case KindText:
		switch v := val.(type) {
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		case time.Time:
			return v.Format(time.RFC3339Nano)
		}
	}
	return val
}
