package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// openSource opens the MySQL source connection with read options suited for
// migration: parsed time values, UTC session, client-side interpolation.
func openSource(params ConnParams) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = params.User
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", params.Host, params.Port)
	cfg.DBName = params.Database
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// mysqlIdent quotes a MySQL identifier for use in source-side queries.
func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// introspectSchema reads all tables, columns, and foreign keys for a database.
func introspectSchema(db *sql.DB, dbName string, skip map[string]bool) (*Schema, error) {
	tables, err := introspectTables(db, dbName, skip)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	for i := range tables {
		t := &tables[i]

		cols, err := introspectColumns(db, dbName, t.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", t.Name, err)
		}
		t.Columns = cols

		fks, err := introspectForeignKeys(db, dbName, t.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect foreign keys for %s: %w", t.Name, err)
		}
		t.ForeignKeys = fks
	}

	return &Schema{Tables: tables}, nil
}

func introspectTables(db *sql.DB, dbName string, skip map[string]bool) ([]Table, error) {
	rows, err := db.Query(
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`,
		dbName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if skip[name] {
			continue
		}
		tables = append(tables, Table{Name: name})
	}
	return tables, rows.Err()
}

func introspectColumns(db *sql.DB, dbName, tableName string) ([]Column, error) {
	rows, err := db.Query(
		`SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, EXTRA, COLUMN_DEFAULT
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable, key, extra string
		var dflt sql.NullString
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &key, &extra, &dflt); err != nil {
			return nil, err
		}
		c.DataType = strings.ToLower(c.DataType)
		c.Nullable = nullable == "YES"
		c.PrimaryKey = key == "PRI"
		c.AutoIncrement = strings.Contains(strings.ToLower(extra), "auto_increment")
		if dflt.Valid {
			c.Default = &dflt.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func introspectForeignKeys(db *sql.DB, dbName, tableName string) ([]ForeignKey, error) {
	rows, err := db.Query(
		`SELECT kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME,
		        rc.UPDATE_RULE, rc.DELETE_RULE
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		   ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
		   AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		 WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
		   AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		 ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var updateRule, deleteRule sql.NullString
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn, &updateRule, &deleteRule); err != nil {
			return nil, err
		}
		fk.UpdateRule = updateRule.String
		fk.DeleteRule = deleteRule.String
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// forEachRow streams all rows of a table in catalog column order, invoking
// fn once per row with values aligned to t.Columns.
func forEachRow(db *sql.DB, t Table, fn func(vals []any) error) error {
	colList := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		colList[i] = mysqlIdent(c.Name)
	}

	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s", strings.Join(colList, ", "), mysqlIdent(t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	vals := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

// sourceRowCount returns the current row count of a source table.
func sourceRowCount(db *sql.DB, tableName string) (int64, error) {
	var n int64
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", mysqlIdent(tableName))).Scan(&n)
	return n, err
}
