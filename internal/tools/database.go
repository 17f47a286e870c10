package tools

import (
	"github.com/rahul/nlsql/internal/database"
)

// NewDatabaseRegistry binds the database tools to one run: its connection and
// its own statement history.
func NewDatabaseRegistry(conn database.Conn, executor *database.Executor, history *database.History, exporter Exporter) *Registry {
	registry := NewRegistry()
	registry.Register(NewSchemaTool(conn))
	registry.Register(NewSQLTool(conn, executor, history))
	registry.Register(NewExportTool(exporter))
	return registry
}
