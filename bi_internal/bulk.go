package bi_internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

var identRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// BulkAssign fills column with fresh IDs from pool for every row of table in
// the source database where column is NULL. Rows are addressed by ctid.
// Returns (processedRows, assignedCount, error).
func (s *Server) BulkAssign(ctx context.Context, p *Pool, srcDSN, table, column string) (int, int, error) {
	// validation to avoid SQL injection via table/column names
	if !identRE.MatchString(table) || !identRE.MatchString(column) {
		return 0, 0, errors.New("invalid table or column name")
	}

	srcDB, err := sql.Open("postgres", srcDSN)
	if err != nil {
		return 0, 0, fmt.Errorf("open src db: %w", err)
	}
	srcDB.SetConnMaxLifetime(time.Minute * 5)
	srcDB.SetMaxOpenConns(5)
	defer srcDB.Close()

	return s.assignColumn(ctx, p, srcDB, table, column)
}

// assignColumn is BulkAssign over an open source database. table and column
// must already be validated identifiers.
func (s *Server) assignColumn(ctx context.Context, p *Pool, srcDB *sql.DB, table, column string) (int, int, error) {
	query := fmt.Sprintf("SELECT ctid FROM %s WHERE %s IS NULL", table, column)
	rows, err := srcDB.QueryContext(ctx, query)
	if err != nil {
		return 0, 0, fmt.Errorf("query source: %w", err)
	}
	defer rows.Close()

	log := s.log.With("pool", p.Name(), "table", table, "column", column)
	processed := 0
	assigned := 0

	for rows.Next() {
		var ctid string
		if err := rows.Scan(&ctid); err != nil {
			log.Warnw("bulk: scan error", "error", err)
			continue
		}
		processed++

		draws, _, err := s.drawFresh(ctx, p, 1)
		if err != nil {
			return processed, assigned, fmt.Errorf("row %d: %w", processed, err)
		}
		d := draws[0]

		ok, err := writeIDToSourceRow(ctx, srcDB, table, column, ctid, d.Value)
		if err != nil {
			log.Warnw("bulk: update failed", "row", processed, "index", d.Index, "error", err)
			continue
		}
		if !ok {
			log.Warnw("bulk: row filled concurrently, drawn id unused", "row", processed, "index", d.Index)
			continue
		}
		assigned++
	}

	if err := rows.Err(); err != nil {
		return processed, assigned, fmt.Errorf("rows error: %w", err)
	}
	log.Infow("bulk-assign completed", "processed", processed, "assigned", assigned)
	return processed, assigned, nil
}

// writeIDToSourceRow sets column for the row identified by ctid, only while
// it is still NULL. ok reports whether a row was updated.
func writeIDToSourceRow(ctx context.Context, db *sql.DB, table, column, ctid string, value uint32) (bool, error) {
	updateSQL := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE ctid = $2 AND %s IS NULL", table, column, column)
	res, err := db.ExecContext(ctx, updateSQL, int64(value), ctid)
	if err != nil {
		return false, fmt.Errorf("update exec: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return ra > 0, nil
}
