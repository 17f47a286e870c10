package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/nlsql/internal/database"
)

// SchemaTool reports table names or the columns of one table.
type SchemaTool struct {
	Conn database.Conn
}

func NewSchemaTool(conn database.Conn) *SchemaTool {
	return &SchemaTool{Conn: conn}
}

func (s *SchemaTool) Name() string {
	return "get_schema"
}

func (s *SchemaTool) Description() string {
	return "Gets the database schema information. Input: table_name (str or null) - If null or omitted, " +
		"returns a list of all table names. If a table name is provided, returns the columns and their types " +
		"for that specific table. Output: (str) - table names or (column, type) pairs. " +
		"Use this to explore the database structure."
}

func (s *SchemaTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table_name": map[string]any{
				"type":        []string{"string", "null"},
				"description": "Table to describe; omit to list all tables",
			},
		},
	}
}

func (s *SchemaTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		TableName *string `json:"table_name"`
	}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", fmt.Errorf("invalid input: %v", err)
		}
	}

	table := ""
	if args.TableName != nil {
		table = strings.TrimSpace(*args.TableName)
	}
	return database.Schema(ctx, s.Conn, table), nil
}
