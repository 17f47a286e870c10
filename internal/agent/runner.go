package agent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rahul/nlsql/internal/database"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/tools"
	"go.uber.org/zap"
)

// Response is the public result of answering a question.
type Response struct {
	OriginalQuery string   `json:"original_query" yaml:"original_query"`
	SQLQueries    []string `json:"sql_queries" yaml:"sql_queries"`
	AgentAnswer   string   `json:"agent_answer" yaml:"agent_answer"`
}

// Runner answers questions, one isolated run per call.
type Runner struct {
	DB       *sql.DB
	Brain    Reasoner
	Executor *database.Executor
	Exporter tools.Exporter
	Logger   *observability.Logger
}

func NewRunner(db *sql.DB, brain Reasoner, executor *database.Executor, exporter tools.Exporter, logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Runner{
		DB:       db,
		Brain:    brain,
		Executor: executor,
		Exporter: exporter,
		Logger:   logger,
	}
}

// Answer runs the agent on its own connection and statement history, then
// reports every statement the agent issued, failed ones included.
func (r *Runner) Answer(ctx context.Context, question string) (*Response, error) {
	done := observability.BeginRun(question)
	defer done()

	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		// The connection goes back to the pool; nothing the agent opened may
		// stay pending on it.
		if err := database.Rollback(context.WithoutCancel(ctx), conn); err != nil {
			r.Logger.Zap().Warn("rollback before release failed", zap.Error(err))
		}
		_ = conn.Close()
	}()

	schema := database.Schema(ctx, conn, "")
	history := database.NewHistory()
	registry := tools.NewDatabaseRegistry(conn, r.Executor, history, r.Exporter)

	run, err := r.Brain.Run(ctx, Query{Question: question, Schema: schema}, registry)
	statements := history.Drain()
	if err != nil {
		r.Logger.Zap().Error("agent run failed", zap.String("question", question), zap.Error(err))
		return nil, err
	}

	r.Logger.Zap().Info("agent run complete",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("iterations", run.Iterations),
		zap.Int("statements", len(statements)),
	)

	return &Response{
		OriginalQuery: question,
		SQLQueries:    statements,
		AgentAnswer:   run.Answer,
	}, nil
}
