package database

import (
	"context"
)

// migrationTable is the migration bookkeeping table, hidden from listings.
const migrationTable = "goose_db_version"

// Schema describes the database. With an empty table it lists every table
// name; otherwise it lists the (column, declared type) pairs of that table.
// An unknown table yields "[]".
func Schema(ctx context.Context, conn Conn, table string) string {
	if table == "" {
		names, err := tableNames(ctx, conn)
		if err != nil {
			return "Error: " + err.Error()
		}
		return FormatStrings(names)
	}

	cols, err := tableColumns(ctx, conn, table)
	if err != nil {
		return "Error: " + err.Error()
	}
	return FormatRows(cols)
}

func tableNames(ctx context.Context, conn Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' AND name <> ?
		ORDER BY rowid`, migrationTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, conn Conn, table string) ([][]any, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols [][]any
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		cols = append(cols, []any{name, typ})
	}
	return cols, rows.Err()
}
