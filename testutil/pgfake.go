package testutil

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

type (
	// Statement is one SQL statement seen by FakeDB.
	Statement struct {
		SQL  string
		Args []interface{}
		InTx bool
	}

	// FakeDB stands in for a *pgx.Conn. It records every statement, answers the
	// information_schema existence check, and keeps an in-memory copy of rows
	// written by INSERT ... ON CONFLICT statements so upsert semantics can be
	// asserted without a server. Writes made in a transaction only land on Commit.
	FakeDB struct {
		mu sync.Mutex

		Statements []Statement
		Begins     int
		Commits    int
		Rollbacks  int
		Closes     int

		Tables map[string]bool
		// ExecErr, when set, is consulted before every Exec.
		ExecErr func(sql string) error
		// QueryRowFunc answers QueryRow calls other than the existence check.
		QueryRowFunc func(sql string, args []interface{}) ([]interface{}, error)

		// Rows holds upserted rows per table name, keyed by the joined primary key.
		Rows map[string]map[string]map[string]interface{}
	}

	FakeTx struct {
		pgx.Tx
		db      *FakeDB
		pending []pendingWrite
		done    bool
	}

	pendingWrite struct {
		table string
		key   string
		row   map[string]interface{}
		skip  bool
	}

	fakeRow struct {
		vals []interface{}
		err  error
	}
)

var ErrTxDone = errors.New("tx is closed")

func NewFakeDB() *FakeDB {
	return &FakeDB{
		Tables: map[string]bool{},
		Rows:   map[string]map[string]map[string]interface{}{},
	}
}

func (f *FakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, writes, err := f.exec(sql, args, false)
	if err != nil {
		return nil, err
	}
	f.apply(writes)
	return tag, nil
}

func (f *FakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statements = append(f.Statements, Statement{SQL: sql, Args: args})
	if strings.Contains(sql, "information_schema.tables") && len(args) == 2 {
		return fakeRow{vals: []interface{}{f.Tables[fmt.Sprintf("%v.%v", args[0], args[1])]}}
	}
	if f.QueryRowFunc != nil {
		vals, err := f.QueryRowFunc(sql, args)
		return fakeRow{vals: vals, err: err}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (f *FakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("FakeDB does not support Query")
}

func (f *FakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Begins++
	return &FakeTx{db: f}, nil
}

func (f *FakeDB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return f.Begin(ctx)
}

func (f *FakeDB) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closes++
	return nil
}

// StatementsWithPrefix returns recorded statements starting with prefix.
func (f *FakeDB) StatementsWithPrefix(prefix string) []Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Statement
	for _, s := range f.Statements {
		if strings.HasPrefix(s.SQL, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// TableRows returns a copy of the rows stored for table (e.g. `"raw"."clients"`).
func (f *FakeDB) TableRows(table string) map[string]map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(f.Rows[table]))
	for k, row := range f.Rows[table] {
		cp := make(map[string]interface{}, len(row))
		for c, v := range row {
			cp[c] = v
		}
		out[k] = cp
	}
	return out
}

func (f *FakeDB) exec(sql string, args []interface{}, inTx bool) (pgconn.CommandTag, []pendingWrite, error) {
	f.Statements = append(f.Statements, Statement{SQL: sql, Args: args, InTx: inTx})
	if f.ExecErr != nil {
		if err := f.ExecErr(sql); err != nil {
			return nil, nil, err
		}
	}
	switch {
	case strings.HasPrefix(sql, "CREATE TABLE"):
		name := strings.Fields(sql)[5]
		f.Tables[strings.ReplaceAll(name, `"`, "")] = true
		return pgconn.CommandTag("CREATE TABLE"), nil, nil
	case strings.HasPrefix(sql, "INSERT INTO") && strings.Contains(sql, "ON CONFLICT"):
		writes, err := parseUpsert(sql, args)
		if err != nil {
			return nil, nil, err
		}
		return pgconn.CommandTag(fmt.Sprintf("INSERT 0 %d", len(writes))), writes, nil
	}
	return pgconn.CommandTag("OK"), nil, nil
}

func (f *FakeDB) apply(writes []pendingWrite) {
	for _, w := range writes {
		if f.Rows[w.table] == nil {
			f.Rows[w.table] = map[string]map[string]interface{}{}
		}
		existing, ok := f.Rows[w.table][w.key]
		if ok && w.skip {
			continue
		}
		if !ok {
			existing = map[string]interface{}{}
			f.Rows[w.table][w.key] = existing
		}
		for c, v := range w.row {
			existing[c] = v
		}
	}
}

func (t *FakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	tag, writes, err := t.db.exec(sql, args, true)
	if err != nil {
		return nil, err
	}
	t.pending = append(t.pending, writes...)
	return tag, nil
}

func (t *FakeTx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.db.Commits++
	t.db.apply(t.pending)
	return nil
}

func (t *FakeTx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.db.Rollbacks++
	t.pending = nil
	return nil
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: got %d destinations for %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

// parseUpsert reads the table, column list, conflict columns and DO clause back
// out of a statement rendered by the upsert package.
func parseUpsert(sql string, args []interface{}) ([]pendingWrite, error) {
	if len(args) > 0 {
		if _, ok := args[0].(pgx.QuerySimpleProtocol); ok {
			args = args[1:]
		}
	}
	rest := strings.TrimPrefix(sql, "INSERT INTO ")
	open := strings.Index(rest, " (")
	table := rest[:open]
	colsEnd := strings.Index(rest, ") VALUES ")
	cols := splitIdents(rest[open+2 : colsEnd])

	conflictStart := strings.Index(rest, " ON CONFLICT (") + len(" ON CONFLICT (")
	conflictEnd := conflictStart + strings.Index(rest[conflictStart:], ")")
	keys := splitIdents(rest[conflictStart:conflictEnd])
	doNothing := strings.Contains(rest[conflictEnd:], "DO NOTHING")

	if len(cols) == 0 || len(args)%len(cols) != 0 {
		return nil, fmt.Errorf("got %d args for %d columns", len(args), len(cols))
	}

	var writes []pendingWrite
	seen := map[string]bool{}
	for start := 0; start < len(args); start += len(cols) {
		row := map[string]interface{}{}
		for i, c := range cols {
			row[c] = args[start+i]
		}
		keyParts := make([]string, len(keys))
		for i, k := range keys {
			keyParts[i] = fmt.Sprint(row[k])
		}
		key := strings.Join(keyParts, "|")
		if seen[key] && !doNothing {
			return nil, &pgconn.PgError{Code: "21000", Message: "ON CONFLICT DO UPDATE command cannot affect row a second time"}
		}
		seen[key] = true
		writes = append(writes, pendingWrite{table: table, key: key, row: row, skip: doNothing})
	}
	return writes, nil
}

func splitIdents(s string) []string {
	parts := strings.Split(s, ", ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.Trim(p, `"`))
	}
	return out
}
