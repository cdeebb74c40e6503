package schema_manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/danthegoodman1/rawsync/crdb"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

type (
	// PrimaryKeyMode controls how the primary key of a new table is declared.
	PrimaryKeyMode string

	Options struct {
		PrimaryKeyMode PrimaryKeyMode
		// Retry runs each DDL transaction through the serialization-retry runner
		Retry bool
	}
)

const (
	// PrimaryKeyAlter creates the table, commits, then adds the key with a second
	// ALTER TABLE. A failed ALTER leaves the table keyless and is only logged.
	PrimaryKeyAlter PrimaryKeyMode = "alter"
	// PrimaryKeyInline declares the key inside CREATE TABLE, in one transaction.
	PrimaryKeyInline PrimaryKeyMode = "inline"

	DefaultSQLType = "TEXT"

	tableExistsQuery = `SELECT EXISTS (
	SELECT FROM information_schema.tables
	WHERE table_schema = $1
	  AND table_name = $2
)`
)

var (
	// SQLTypes maps a column kind to the Postgres type it is created with. Kinds
	// not listed here are created as DefaultSQLType.
	SQLTypes = map[recordset.Kind]string{
		recordset.KindInteger:   "INTEGER",
		recordset.KindFloat:     "DOUBLE PRECISION",
		recordset.KindText:      "TEXT",
		recordset.KindBoolean:   "BOOLEAN",
		recordset.KindTimestamp: "TIMESTAMP",
	}

	ErrNoPrimaryKey           = utils.PermError("no primary key columns given")
	ErrPrimaryKeyNotInColumns = utils.PermError("primary key column not in record set")
)

func SQLType(k recordset.Kind) string {
	if t, ok := SQLTypes[k]; ok {
		return t
	}
	return DefaultSQLType
}

// QualifiedName returns the quoted "schema"."table" identifier.
func QualifiedName(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// BuildCreateTable renders the CREATE TABLE statement for the record set's columns.
// primaryKey is declared inline when non-empty.
func BuildCreateTable(schema, table string, cols []recordset.Column, primaryKey []string) string {
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, pgx.Identifier{col.Name}.Sanitize()+" "+SQLType(col.Kind))
	}
	if len(primaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteColumns(primaryKey)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QualifiedName(schema, table), strings.Join(defs, ", "))
}

func BuildAddPrimaryKey(schema, table string, primaryKey []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", QualifiedName(schema, table), quoteColumns(primaryKey))
}

// TableExists checks information_schema for schema.table.
func TableExists(ctx context.Context, db crdb.DB, schema, table string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, tableExistsQuery, schema, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking if %s.%s exists: %w", schema, table, err)
	}
	return exists, nil
}

// EnsureTable creates schema.table from the record set's inferred column types if
// it does not exist yet. An existing table is trusted as-is: no DDL is issued and
// its columns are not compared with the record set.
func EnsureTable(ctx context.Context, db crdb.DB, rs *recordset.RecordSet, schema, table string, primaryKey []string, opts Options) error {
	logger := zerolog.Ctx(ctx).With().Str("table", schema+"."+table).Logger()

	if len(primaryKey) == 0 {
		return ErrNoPrimaryKey
	}

	exists, err := TableExists(ctx, db, schema, table)
	if err != nil {
		return err
	}
	if exists {
		logger.Info().Msg("table already exists")
		return nil
	}

	cols := rs.Columns()

	if opts.PrimaryKeyMode == PrimaryKeyInline {
		if missing := utils.MissingStrings(rs.ColumnNames(), primaryKey); len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrPrimaryKeyNotInColumns, strings.Join(missing, ", "))
		}
		err = crdb.RunInTx(ctx, db, opts.Retry, func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx, BuildCreateTable(schema, table, cols, primaryKey))
			return err
		})
		if err != nil {
			return fmt.Errorf("error creating table %s.%s: %w", schema, table, err)
		}
		logger.Info().Strs("primaryKey", primaryKey).Int("columns", len(cols)).Msg("created table")
		return nil
	}

	err = crdb.RunInTx(ctx, db, opts.Retry, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, BuildCreateTable(schema, table, cols, nil))
		return err
	})
	if err != nil {
		return fmt.Errorf("error creating table %s.%s: %w", schema, table, err)
	}
	logger.Info().Int("columns", len(cols)).Msg("created table")

	err = crdb.RunInTx(ctx, db, opts.Retry, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, BuildAddPrimaryKey(schema, table, primaryKey))
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Strs("primaryKey", primaryKey).Msg("failed to add primary key, table has none")
		return nil
	}
	logger.Info().Strs("primaryKey", primaryKey).Msg("added primary key")

	return nil
}
