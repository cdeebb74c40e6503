package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/danthegoodman1/rawsync/fetcher"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/danthegoodman1/rawsync/testutil"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modified = time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

type fakeSource struct {
	rows    []map[string]any
	err     error
	calls   int
	path    string
	query   url.Values
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, path string, query url.Values) (*recordset.RecordSet, error) {
	f.calls++
	f.path = path
	f.query = query
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return recordset.FromMaps(f.rows), nil
}

type fakeArchiver struct {
	entity string
	rs     *recordset.RecordSet
	err    error
}

func (f *fakeArchiver) Archive(ctx context.Context, entity string, rs *recordset.RecordSet) (string, error) {
	f.entity = entity
	f.rs = rs
	if f.err != nil {
		return "", f.err
	}
	return "ns=clients/y=2025/m=7/d=1/x.parquet", nil
}

// clientRow returns a row carrying every clients column plus one the API sends
// but the table does not keep.
func clientRow(id int64, firstName string) map[string]any {
	row := map[string]any{}
	for _, col := range Clients.Columns {
		row[col] = nil
	}
	row["clientid"] = id
	row["firstname"] = firstName
	row["lastname"] = "Smith"
	row["current"] = true
	row["latitude"] = -33.8
	row[fetcher.ModifiedTimeColumn] = modified
	row["extra"] = "dropped"
	return row
}

func TestRunCreatesAndUpserts(t *testing.T) {
	db := testutil.NewFakeDB()
	src := &fakeSource{rows: []map[string]any{clientRow(1, "Jo&amp;hn"), clientRow(2, "Jane")}}
	p := &Pipeline{Source: src}

	res, err := p.Run(context.Background(), db, Clients)
	require.NoError(t, err)

	assert.Equal(t, "/clients", src.path)
	assert.Equal(t, "TRUE", src.query.Get("includeNonCurrent"))
	assert.Equal(t, "FALSE", src.query.Get("includeNotes"))

	assert.Equal(t, "clients", res.Entity)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, int64(2), res.RowsFetched)
	assert.Equal(t, int64(2), res.RowsWritten)

	creates := db.StatementsWithPrefix("CREATE TABLE")
	require.Len(t, creates, 1)
	assert.True(t, strings.HasPrefix(creates[0].SQL, `CREATE TABLE IF NOT EXISTS "raw"."clients" ("clientid" INTEGER, "clientcode" TEXT, "firstname" TEXT`))
	assert.NotContains(t, creates[0].SQL, "extra")
	assert.Contains(t, creates[0].SQL, `"modifiedtime" TIMESTAMP`)
	assert.Len(t, db.StatementsWithPrefix(`ALTER TABLE "raw"."clients" ADD PRIMARY KEY ("clientid")`), 1)

	rows := db.TableRows(`"raw"."clients"`)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jo&hn", rows["1"]["firstname"])
	assert.Equal(t, "Jane", rows["2"]["firstname"])
	assert.NotContains(t, rows["1"], "extra")

	// second run against the now existing table only upserts
	res, err = p.Run(context.Background(), db, Clients)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsWritten)
	assert.Len(t, db.StatementsWithPrefix("CREATE TABLE"), 1)
	assert.Len(t, db.TableRows(`"raw"."clients"`), 2)
}

func TestProject(t *testing.T) {
	rs := recordset.FromMaps([]map[string]any{
		{"b": "x &lt; y", "a": int64(1), "extra": "z"},
	})

	out, err := Project(rs, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, out.ColumnNames())
	assert.Equal(t, map[string]any{"b": "x < y", "a": int64(1)}, out.RowMap(0))

	_, err = Project(rs, []string{"a", "missing"})
	assert.ErrorIs(t, err, recordset.ErrMissingColumn)
}

func TestRunMissingColumnFails(t *testing.T) {
	row := clientRow(1, "John")
	delete(row, "referer")
	db := testutil.NewFakeDB()
	p := &Pipeline{Source: &fakeSource{rows: []map[string]any{row}}}

	_, err := p.Run(context.Background(), db, Clients)
	require.Error(t, err)
	assert.ErrorIs(t, err, recordset.ErrMissingColumn)
	assert.Contains(t, err.Error(), "referer")
	assert.Empty(t, db.Statements)
}

func TestRunFetchError(t *testing.T) {
	db := testutil.NewFakeDB()
	fetchErr := &fetcher.Error{Kind: fetcher.KindStatus, URL: "https://example.com/clients", StatusCode: 401, Err: errors.New("denied")}
	p := &Pipeline{Source: &fakeSource{err: fetchErr}}

	_, err := p.Run(context.Background(), db, Clients)
	var fe *fetcher.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fetcher.KindStatus, fe.Kind)
	assert.Empty(t, db.Statements)
}

func TestRunEmptyFetch(t *testing.T) {
	db := testutil.NewFakeDB()
	p := &Pipeline{Source: &fakeSource{}}

	res, err := p.Run(context.Background(), db, Clients)
	// an empty response has none of the target columns
	assert.ErrorIs(t, err, recordset.ErrMissingColumn)
	assert.Equal(t, int64(0), res.RowsFetched)
}

func TestRunTargetSchemaOverride(t *testing.T) {
	db := testutil.NewFakeDB()
	p := &Pipeline{
		Source:  &fakeSource{rows: []map[string]any{clientRow(1, "John")}},
		Options: Options{TargetSchema: "staging"},
	}

	_, err := p.Run(context.Background(), db, Clients)
	require.NoError(t, err)
	assert.Len(t, db.TableRows(`"staging"."clients"`), 1)
	assert.Empty(t, db.TableRows(`"raw"."clients"`))
}

func TestRunArchives(t *testing.T) {
	db := testutil.NewFakeDB()
	arch := &fakeArchiver{}
	p := &Pipeline{
		Source:   &fakeSource{rows: []map[string]any{clientRow(1, "Jo&amp;hn")}},
		Archiver: arch,
	}

	res, err := p.Run(context.Background(), db, Clients)
	require.NoError(t, err)
	assert.Equal(t, "clients", arch.entity)
	require.NotNil(t, arch.rs)
	assert.Equal(t, Clients.Columns, arch.rs.ColumnNames())
	assert.Equal(t, "Jo&hn", arch.rs.RowMap(0)["firstname"])
	assert.Equal(t, "ns=clients/y=2025/m=7/d=1/x.parquet", res.ArchiveKey)
}

func TestRunArchiveErrorIsNotFatal(t *testing.T) {
	db := testutil.NewFakeDB()
	p := &Pipeline{
		Source:   &fakeSource{rows: []map[string]any{clientRow(1, "John")}},
		Archiver: &fakeArchiver{err: errors.New("bucket gone")},
	}

	res, err := p.Run(context.Background(), db, Clients)
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveKey)
	assert.Len(t, db.TableRows(`"raw"."clients"`), 1)
}

func TestRunLog(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := testutil.NewFakeDB()
		p := &Pipeline{
			Source:  &fakeSource{rows: []map[string]any{clientRow(1, "John")}},
			Options: Options{RunLog: true},
		}

		res, err := p.Run(context.Background(), db, Clients)
		require.NoError(t, err)

		inserts := db.StatementsWithPrefix("-- name: InsertSyncRun")
		require.Len(t, inserts, 1)
		assert.Equal(t, res.RunID, inserts[0].Args[0])
		assert.Equal(t, "clients", inserts[0].Args[1])
		assert.False(t, inserts[0].InTx)

		finishes := db.StatementsWithPrefix("-- name: FinishSyncRun")
		require.Len(t, finishes, 1)
		assert.Equal(t, res.RunID, finishes[0].Args[0])
		assert.Equal(t, StatusSuccess, finishes[0].Args[1])
		assert.Equal(t, int64(1), finishes[0].Args[2])
		assert.Equal(t, int64(1), finishes[0].Args[3])
	})

	t.Run("failure", func(t *testing.T) {
		db := testutil.NewFakeDB()
		db.ExecErr = func(sql string) error {
			if strings.HasPrefix(sql, "INSERT INTO") {
				return errors.New("boom")
			}
			return nil
		}
		p := &Pipeline{
			Source:  &fakeSource{rows: []map[string]any{clientRow(1, "John")}},
			Options: Options{RunLog: true},
		}

		_, err := p.Run(context.Background(), db, Clients)
		require.Error(t, err)

		finishes := db.StatementsWithPrefix("-- name: FinishSyncRun")
		require.Len(t, finishes, 1)
		assert.Equal(t, StatusError, finishes[0].Args[1])
		errText, ok := finishes[0].Args[4].(sql.NullString)
		require.True(t, ok)
		assert.True(t, errText.Valid)
		assert.Contains(t, errText.String, "boom")
	})

	t.Run("run log failure does not fail the run", func(t *testing.T) {
		db := testutil.NewFakeDB()
		db.ExecErr = func(sql string) error {
			if strings.HasPrefix(sql, "-- name:") {
				return errors.New("relation \"public.sync_runs\" does not exist")
			}
			return nil
		}
		p := &Pipeline{
			Source:  &fakeSource{rows: []map[string]any{clientRow(1, "John")}},
			Options: Options{RunLog: true},
		}

		_, err := p.Run(context.Background(), db, Clients)
		require.NoError(t, err)
		assert.Len(t, db.TableRows(`"raw"."clients"`), 1)
	})
}

func TestLookupEntity(t *testing.T) {
	e, err := LookupEntity("clients")
	require.NoError(t, err)
	assert.Equal(t, []string{"clientid"}, e.PrimaryKey)
	assert.Len(t, e.Columns, 36)
	assert.Equal(t, []string{"clients"}, EntityNames())

	_, err = LookupEntity("invoices")
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.True(t, utils.IsPermanent(err))
}
