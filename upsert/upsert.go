package upsert

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/rawsync/crdb"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/danthegoodman1/rawsync/schema_manager"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

type Options struct {
	// PageSize is the number of rows sent per INSERT statement. All pages share
	// one transaction.
	PageSize int
	Retry    bool
}

const (
	DefaultPageSize = 100

	// Postgres caps bind parameters per statement at 65535
	maxParams = 65535
)

// BuildStatement renders the bulk upsert for numRows rows of columns. Placeholders
// are numbered row by row in column order. Every non-key column is overwritten on
// conflict; when all columns are key columns conflicting rows are left alone.
func BuildStatement(schema, table string, columns, primaryKey []string, numRows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(schema_manager.QualifiedName(schema, table))
	sb.WriteString(" (")
	sb.WriteString(quoteAll(columns))
	sb.WriteString(") VALUES ")

	n := 1
	for r := 0; r < numRows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
			n++
		}
		sb.WriteString(")")
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(quoteAll(primaryKey))
	sb.WriteString(")")

	var sets []string
	for _, col := range columns {
		if utils.ContainsString(primaryKey, col) {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		sets = append(sets, ident+" = EXCLUDED."+ident)
	}
	if len(sets) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET ")
		sb.WriteString(strings.Join(sets, ", "))
	}

	return sb.String()
}

// Upsert writes every row of rs into schema.table, inserting unseen keys and
// overwriting the non-key columns of existing ones. All statements run in one
// transaction: it commits on success and rolls back on any error, which is
// returned. An empty record set is skipped without touching the database.
func Upsert(ctx context.Context, db crdb.DB, rs *recordset.RecordSet, schema, table string, primaryKey []string, opts Options) (int64, error) {
	logger := zerolog.Ctx(ctx).With().Str("table", schema+"."+table).Logger()

	if rs.Empty() {
		logger.Warn().Msg("record set is empty, skipping upsert")
		return 0, nil
	}

	if len(primaryKey) == 0 {
		return 0, schema_manager.ErrNoPrimaryKey
	}
	columns := rs.ColumnNames()
	if missing := utils.MissingStrings(columns, primaryKey); len(missing) > 0 {
		return 0, fmt.Errorf("%w: %s", schema_manager.ErrPrimaryKeyNotInColumns, strings.Join(missing, ", "))
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize*len(columns) > maxParams {
		pageSize = maxParams / len(columns)
	}

	rows := rs.Rows()
	var written int64
	err := crdb.RunInTx(ctx, db, opts.Retry, func(ctx context.Context, tx pgx.Tx) error {
		written = 0
		for start := 0; start < len(rows); start += pageSize {
			end := start + pageSize
			if end > len(rows) {
				end = len(rows)
			}
			page := rows[start:end]

			// literals let the server cast into whatever type the column was created with
			args := make([]interface{}, 0, len(page)*len(columns)+1)
			args = append(args, pgx.QuerySimpleProtocol(true))
			for _, row := range page {
				args = append(args, row...)
			}

			tag, err := tx.Exec(ctx, BuildStatement(schema, table, columns, primaryKey, len(page)), args...)
			if err != nil {
				return fmt.Errorf("error upserting rows %d-%d: %w", start, end-1, err)
			}
			written += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("upsert failed, rolled back")
		return 0, fmt.Errorf("error upserting into %s.%s: %w", schema, table, err)
	}

	logger.Info().Int("rows", len(rows)).Int64("rowsAffected", written).Msg("upserted rows")
	return written, nil
}

func quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
