package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/csvsink"
	"github.com/rahul/nlsql/internal/database"
	"github.com/rahul/nlsql/internal/governance"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
	"github.com/rahul/nlsql/internal/tools"
)

// scriptedModel replays canned choices and records what it was shown.
type scriptedModel struct {
	mu      sync.Mutex
	steps   []func(messages []llms.MessageContent) (*llms.ContentChoice, error)
	calls   [][]llms.MessageContent
	options []llms.CallOptions
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.calls = append(m.calls, append([]llms.MessageContent(nil), messages...))
	m.options = append(m.options, opts)

	idx := len(m.calls) - 1
	if idx >= len(m.steps) {
		return nil, fmt.Errorf("unexpected call %d", idx+1)
	}
	choice, err := m.steps[idx](messages)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func callTool(name, args string) func([]llms.MessageContent) (*llms.ContentChoice, error) {
	return func([]llms.MessageContent) (*llms.ContentChoice, error) {
		return &llms.ContentChoice{
			ToolCalls: []llms.ToolCall{{
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
			}},
		}, nil
	}
}

func reply(text string) func([]llms.MessageContent) (*llms.ContentChoice, error) {
	return func([]llms.MessageContent) (*llms.ContentChoice, error) {
		return &llms.ContentChoice{Content: text}, nil
	}
}

func fail(err error) func([]llms.MessageContent) (*llms.ContentChoice, error) {
	return func([]llms.MessageContent) (*llms.ContentChoice, error) {
		return nil, err
	}
}

// lastToolResult returns the content of the newest tool message.
func lastToolResult(t *testing.T, messages []llms.MessageContent) string {
	t.Helper()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llms.ChatMessageTypeTool {
			continue
		}
		resp, ok := messages[i].Parts[0].(llms.ToolCallResponse)
		require.True(t, ok)
		return resp.Content
	}
	t.Fatal("no tool message")
	return ""
}

type fixture struct {
	db     *sql.DB
	dir    string
	runner *Runner
	brain  *SQLBrain
	model  *scriptedModel
}

func newFixture(t *testing.T, steps ...func([]llms.MessageContent) (*llms.ContentChoice, error)) *fixture {
	t.Helper()

	db := store.OpenTestDB(t)
	dir := t.TempDir()
	sink := csvsink.New(dir)
	model := &scriptedModel{steps: steps}
	brain := NewSQLBrain(model, NewPromptManager(""), governance.NewDefaultPolicyEngine(), observability.NewNopLogger())
	runner := NewRunner(db, brain, database.NewExecutor(sink, zap.NewNop()), sink, nil)

	return &fixture{db: db, dir: dir, runner: runner, brain: brain, model: model}
}

func TestAnswer_ListTablesOnFreshDatabase(t *testing.T) {
	var observed string
	f := newFixture(t,
		callTool("get_schema", `{}`),
		func(messages []llms.MessageContent) (*llms.ContentChoice, error) {
			observed = lastToolResult(t, messages)
			return &llms.ContentChoice{Content: "The database has no user tables yet."}, nil
		},
	)

	resp, err := f.runner.Answer(context.Background(), "show all tables")
	require.NoError(t, err)

	assert.Equal(t, "show all tables", resp.OriginalQuery)
	assert.Equal(t, []string{}, resp.SQLQueries)
	assert.Equal(t, "The database has no user tables yet.", resp.AgentAnswer)
	assert.Equal(t, "['queries']", observed)

	// system prompt, then the question with the schema snapshot
	first := f.model.calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, first[0].Role)
	human := first[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, human, "show all tables")
	assert.Contains(t, human, "['queries']")

	names := make([]string, 0, len(f.model.options[0].Tools))
	for _, tool := range f.model.options[0].Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"get_schema", "execute_sql", "save_data_to_csv"}, names)
}

func TestAnswer_InsertIsExecutedAndLogged(t *testing.T) {
	f := newFixture(t,
		callTool("execute_sql", `{"query": "INSERT INTO users (name) VALUES ('Ana')"}`),
		reply("Added Ana to users."),
	)
	_, err := f.db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	resp, err := f.runner.Answer(context.Background(), "add a user named Ana")
	require.NoError(t, err)

	assert.Equal(t, []string{"INSERT INTO users (name) VALUES ('Ana')"}, resp.SQLQueries)
	assert.Equal(t, "Added Ana to users.", resp.AgentAnswer)

	var name string
	require.NoError(t, f.db.QueryRow(`SELECT name FROM users`).Scan(&name))
	assert.Equal(t, "Ana", name)

	data, err := os.ReadFile(filepath.Join(f.dir, csvsink.ModificationLogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "INSERT INTO users (name) VALUES ('Ana')")

	assert.Equal(t, database.NoRowsMessage, lastToolResult(t, f.model.calls[1]))
}

func TestAnswer_FailedStatementIsStillReported(t *testing.T) {
	f := newFixture(t,
		callTool("execute_sql", `{"query": "SELECT * FROM missing"}`),
		reply("That table does not exist."),
	)

	resp, err := f.runner.Answer(context.Background(), "show the missing table")
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT * FROM missing"}, resp.SQLQueries)
	assert.True(t, strings.HasPrefix(lastToolResult(t, f.model.calls[1]), "Error: "))
}

func TestAnswer_AgentTransactionDoesNotOutliveRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	db, err := store.OpenAndMigrate(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// One connection, so the job insert below reuses the agent's connection.
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	model := &scriptedModel{steps: []func([]llms.MessageContent) (*llms.ContentChoice, error){
		callTool("execute_sql", `{"query": "BEGIN"}`),
		callTool("execute_sql", `{"query": "INSERT INTO users (name) VALUES ('Ana')"}`),
		callTool("execute_sql", `{"query": "BEGIN"}`),
		callTool("execute_sql", `{"query": "SELECT name FROM users"}`),
		reply("Added Ana."),
	}}
	brain := NewSQLBrain(model, nil, nil, nil)
	runner := NewRunner(db, brain, database.NewExecutor(nil, zap.NewNop()), csvsink.New(t.TempDir()), nil)

	_, err = runner.Answer(ctx, "add Ana")
	require.NoError(t, err)
	assert.Equal(t, "[('Ana',)]", lastToolResult(t, model.calls[4]))

	_, err = store.NewJobStore(db).CreatePending(ctx, "job-1")
	require.NoError(t, err)

	observer, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = observer.Close() })

	var users, jobs int
	require.NoError(t, observer.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users))
	require.NoError(t, observer.QueryRow(`SELECT COUNT(*) FROM queries WHERE id = 'job-1'`).Scan(&jobs))
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, jobs)
}

func TestRun_ExhaustionExtractsAnswer(t *testing.T) {
	steps := []func([]llms.MessageContent) (*llms.ContentChoice, error){}
	for i := 0; i < 3; i++ {
		steps = append(steps, callTool("execute_sql", `{"query": "SELECT 1"}`))
	}
	steps = append(steps, reply("One, as far as I can tell."))

	f := newFixture(t, steps...)
	f.brain.MaxIters = 3

	resp, err := f.runner.Answer(context.Background(), "what is one")
	require.NoError(t, err)
	assert.Equal(t, "One, as far as I can tell.", resp.AgentAnswer)
	assert.Equal(t, []string{"SELECT 1", "SELECT 1", "SELECT 1"}, resp.SQLQueries)

	require.Equal(t, 4, f.model.callCount())
	assert.Equal(t, "none", f.model.options[3].ToolChoice)
	last := f.model.calls[3][len(f.model.calls[3])-1]
	assert.Equal(t, llms.ChatMessageTypeHuman, last.Role)
}

func TestRun_ExhaustionFallsBackToFixedAnswer(t *testing.T) {
	f := newFixture(t,
		callTool("get_schema", `{}`),
		callTool("get_schema", `{}`),
		fail(errors.New("rate limited")),
	)
	f.brain.MaxIters = 2

	resp, err := f.runner.Answer(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, NoAnswerMessage, resp.AgentAnswer)
}

func TestRun_DefaultCap(t *testing.T) {
	steps := []func([]llms.MessageContent) (*llms.ContentChoice, error){}
	for i := 0; i < DefaultMaxIters; i++ {
		steps = append(steps, callTool("get_schema", `{}`))
	}
	steps = append(steps, reply(""))

	f := newFixture(t, steps...)
	registry := tools.NewDatabaseRegistry(f.db, f.runner.Executor, database.NewHistory(), f.runner.Exporter)

	run, err := f.brain.Run(context.Background(), Query{Question: "q", Schema: "[]"}, registry)
	require.NoError(t, err)
	assert.Equal(t, RunStatusExhausted, run.Status)
	assert.Equal(t, DefaultMaxIters, run.Iterations)
	assert.Len(t, run.Trace, DefaultMaxIters)
	assert.Equal(t, NoAnswerMessage, run.Answer)
	assert.Equal(t, DefaultMaxIters+1, f.model.callCount())
}

func TestRun_OracleErrorIsFatal(t *testing.T) {
	f := newFixture(t,
		callTool("get_schema", `{}`),
		fail(errors.New("connection reset")),
	)

	resp, err := f.runner.Answer(context.Background(), "anything")
	assert.Nil(t, resp)
	assert.ErrorContains(t, err, "connection reset")
}

func TestRun_EmptyResponseIsFatal(t *testing.T) {
	model := &emptyModel{}
	brain := NewSQLBrain(model, nil, nil, nil)

	_, err := brain.Run(context.Background(), Query{Question: "q"}, tools.NewRegistry())
	assert.ErrorContains(t, err, "empty response")
}

type emptyModel struct{}

func (emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (m emptyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestRun_ToolFailuresBecomeObservations(t *testing.T) {
	f := newFixture(t,
		callTool("drop_everything", `{}`),
		callTool("execute_sql", `{"query": "DROP TABLE queries"}`),
		callTool("execute_sql", `{"sql": "SELECT 1"}`),
		reply("done"),
	)
	policy, err := governance.NewPolicyEngine(nil, governance.DefaultDenyPatterns)
	require.NoError(t, err)
	f.brain.Policy = policy

	registry := tools.NewDatabaseRegistry(f.db, f.runner.Executor, database.NewHistory(), f.runner.Exporter)
	run, err := f.brain.Run(context.Background(), Query{Question: "q", Schema: "[]"}, registry)
	require.NoError(t, err)

	require.Len(t, run.Trace, 3)
	assert.Equal(t, "Error: Tool drop_everything not found", run.Trace[0].Observation)
	assert.True(t, strings.HasPrefix(run.Trace[1].Observation, "Error: blocked by policy: "), run.Trace[1].Observation)
	assert.True(t, strings.HasPrefix(run.Trace[2].Observation, "Error: invalid arguments: "), run.Trace[2].Observation)

	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'queries'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRun_ActsOnFirstToolCallOnly(t *testing.T) {
	f := newFixture(t,
		func([]llms.MessageContent) (*llms.ContentChoice, error) {
			return &llms.ContentChoice{
				Content: "Let me look first.",
				ToolCalls: []llms.ToolCall{
					{ID: "a", Type: "function", FunctionCall: &llms.FunctionCall{Name: "get_schema", Arguments: `{}`}},
					{ID: "b", Type: "function", FunctionCall: &llms.FunctionCall{Name: "execute_sql", Arguments: `{"query": "DELETE FROM queries"}`}},
				},
			}, nil
		},
		reply("ok"),
	)

	resp, err := f.runner.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, resp.SQLQueries)

	second := f.model.calls[1]
	assistant := second[len(second)-2]
	assert.Equal(t, llms.ChatMessageTypeAI, assistant.Role)
	var calls []llms.ToolCall
	for _, p := range assistant.Parts {
		if tc, ok := p.(llms.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].ID)
}

func TestAnswer_ConcurrentRunsKeepSeparateHistories(t *testing.T) {
	db := store.OpenTestDB(t)
	_, err := db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`)
	require.NoError(t, err)
	sink := csvsink.New(t.TempDir())
	executor := database.NewExecutor(sink, zap.NewNop())

	const runs = 4
	var wg sync.WaitGroup
	results := make([]*Response, runs)
	errs := make([]error, runs)

	for i := 0; i < runs; i++ {
		stmt := fmt.Sprintf("SELECT %d", i)
		model := &scriptedModel{steps: []func([]llms.MessageContent) (*llms.ContentChoice, error){
			callTool("execute_sql", fmt.Sprintf(`{"query": %q}`, stmt)),
			reply("ok"),
		}}
		runner := NewRunner(db, NewSQLBrain(model, nil, nil, nil), executor, sink, nil)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = runner.Answer(context.Background(), stmt)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{fmt.Sprintf("SELECT %d", i)}, results[i].SQLQueries)
	}
}
