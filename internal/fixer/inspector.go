package fixer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Column describes a table column as reported by information_schema.
type Column struct {
	Table     string
	Name      string
	DataType  string
	MaxLength int
}

// ColumnInspector looks up live schema details used to parameterise migrations.
type ColumnInspector interface {
	VarcharColumns(ctx context.Context, maxLength int) ([]Column, error)
	ColumnType(ctx context.Context, table, column string) (string, error)
}

// PostgresInspector queries information_schema over a short-lived pgx connection.
type PostgresInspector struct {
	dsn    string
	schema string
}

// NewPostgresInspector returns an inspector for the public schema of dsn.
func NewPostgresInspector(dsn string) *PostgresInspector {
	return &PostgresInspector{dsn: dsn, schema: "public"}
}

const varcharColumnsQuery = `
SELECT table_name, column_name, data_type, character_maximum_length
FROM information_schema.columns
WHERE table_schema = $1 AND data_type = 'character varying' AND character_maximum_length = $2
ORDER BY table_name, column_name`

const columnTypeQuery = `
SELECT data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`

// VarcharColumns lists VARCHAR columns declared with exactly maxLength characters.
func (p *PostgresInspector) VarcharColumns(ctx context.Context, maxLength int) ([]Column, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, varcharColumnsQuery, p.schema, maxLength)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		var length int32
		if err := rows.Scan(&c.Table, &c.Name, &c.DataType, &length); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.MaxLength = int(length)
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// ColumnType returns the data type of table.column.
func (p *PostgresInspector) ColumnType(ctx context.Context, table, column string) (string, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	var dataType string
	if err := conn.QueryRow(ctx, columnTypeQuery, p.schema, table, column).Scan(&dataType); err != nil {
		return "", fmt.Errorf("column %s.%s: %w", table, column, err)
	}
	return dataType, nil
}
