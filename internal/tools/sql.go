package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rahul/nlsql/internal/database"
)

// SQLTool executes agent-written SQL on the run's connection and records each
// statement in the run's history.
type SQLTool struct {
	Conn     database.Conn
	Executor *database.Executor
	History  *database.History
}

func NewSQLTool(conn database.Conn, executor *database.Executor, history *database.History) *SQLTool {
	return &SQLTool{Conn: conn, Executor: executor, History: history}
}

func (s *SQLTool) Name() string {
	return "execute_sql"
}

func (s *SQLTool) Description() string {
	return "Executes a SQL query on the database. Input: query (str) - A valid SQL query string. " +
		"Output: (str) - Query results as a list of row tuples, or an error message if the query fails. " +
		"Use this tool to retrieve data, and to insert, update or delete rows when the user explicitly asks for it."
}

func (s *SQLTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The SQL statement to execute",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SQLTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	return s.Executor.Execute(ctx, s.Conn, args.Query, s.History), nil
}
