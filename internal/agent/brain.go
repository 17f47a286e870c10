package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rahul/nlsql/internal/governance"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/tools"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// DefaultMaxIters caps tool-using steps per run.
const DefaultMaxIters = 7

// NoAnswerMessage is the answer of a run that ran out of steps without one.
const NoAnswerMessage = "I could not reach an answer within the allowed number of steps. Please try a simpler or more specific question."

const extractPrompt = "You have used every available step. Using only the observations above, give your final answer to the original question now, in plain language."

// RunStatus is the terminal state of a reasoning run.
type RunStatus string

const (
	RunStatusDone      RunStatus = "done"
	RunStatusExhausted RunStatus = "exhausted"
)

// Query is the input of one run.
type Query struct {
	Question string
	Schema   string
}

// ToolCall is one acted step of a run.
type ToolCall struct {
	Tool        string `json:"tool"`
	Input       string `json:"input"`
	Observation string `json:"observation"`
}

// Run is the outcome of a reasoning run.
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Answer     string     `json:"answer"`
	Trace      []ToolCall `json:"trace"`
	Iterations int        `json:"iterations"`
}

// Reasoner answers a query using the tools of a registry.
type Reasoner interface {
	Run(ctx context.Context, q Query, registry *tools.Registry) (*Run, error)
}

// SQLBrain is a ReAct agent that answers questions about a database.
type SQLBrain struct {
	Model       llms.Model
	Prompts     *PromptManager
	Policy      governance.PolicyEngine
	Logger      *observability.Logger
	MaxIters    int
	ModelName   string
	CallOptions []llms.CallOption
}

func NewSQLBrain(model llms.Model, prompts *PromptManager, policy governance.PolicyEngine, logger *observability.Logger) *SQLBrain {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SQLBrain{
		Model:    model,
		Prompts:  prompts,
		Policy:   policy,
		Logger:   logger,
		MaxIters: DefaultMaxIters,
	}
}

// Run drives the Thinking/Acting loop until the model answers in text or the
// step cap is reached. Tool failures are fed back as observations; only model
// failures end the run with an error.
func (b *SQLBrain) Run(ctx context.Context, q Query, registry *tools.Registry) (*Run, error) {
	run := &Run{ID: uuid.NewString()}
	log := b.Logger.Zap().With(zap.String("run_id", run.ID))

	systemPrompt, err := b.Prompts.GetSystemPrompt()
	if err != nil {
		log.Warn("failed to load system prompt, using default", zap.Error(err))
		systemPrompt = DefaultSystemPrompt
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("Question: %s\n\nInitial schema (tables): %s", q.Question, q.Schema)),
	}

	opts := append(append([]llms.CallOption{}, b.CallOptions...), llms.WithTools(registry.Definitions()))

	maxIters := b.MaxIters
	if maxIters <= 0 {
		maxIters = DefaultMaxIters
	}

	for run.Iterations < maxIters {
		choice, err := b.generate(ctx, run.ID, messages, opts...)
		if err != nil {
			b.Logger.LogRun(run.ID, "error", run.Iterations)
			return nil, err
		}

		if len(choice.ToolCalls) == 0 {
			run.Status = RunStatusDone
			run.Answer = strings.TrimSpace(choice.Content)
			if run.Answer == "" {
				run.Answer = NoAnswerMessage
			}
			b.Logger.LogRun(run.ID, string(run.Status), run.Iterations)
			return run, nil
		}

		if choice.Content != "" {
			b.Logger.LogReasoning(run.ID, choice.Content)
		}

		// Only the first call is acted on, so only it goes into the transcript.
		tc := choice.ToolCalls[0]
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d", run.Iterations+1)
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		if tc.FunctionCall == nil {
			tc.FunctionCall = &llms.FunctionCall{}
		}

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		assistantParts = append(assistantParts, tc)
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		run.Iterations++
		observation := b.act(ctx, run.ID, run.Iterations, registry, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
		run.Trace = append(run.Trace, ToolCall{
			Tool:        tc.FunctionCall.Name,
			Input:       tc.FunctionCall.Arguments,
			Observation: observation,
		})

		messages = append(messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{
				llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    observation,
				},
			},
		})
	}

	run.Status = RunStatusExhausted
	run.Answer = b.extract(ctx, run.ID, messages, registry)
	b.Logger.LogRun(run.ID, string(run.Status), run.Iterations)
	return run, nil
}

func (b *SQLBrain) generate(ctx context.Context, runID string, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	resp, err := b.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, errors.New("oracle: empty response")
	}

	choice := resp.Choices[0]
	b.Logger.LogLLM(runID, messages, choice.Content, choice.ToolCalls)
	if choice.GenerationInfo != nil {
		b.Logger.LogCost(runID,
			intFromInfo(choice.GenerationInfo, "PromptTokens"),
			intFromInfo(choice.GenerationInfo, "CompletionTokens"),
			b.ModelName)
	}
	return choice, nil
}

// act executes one tool call and returns its observation.
func (b *SQLBrain) act(ctx context.Context, runID string, step int, registry *tools.Registry, name, args string) string {
	b.Logger.LogToolCall(runID, step, name, args)

	observation := b.invoke(ctx, runID, registry, name, args)

	b.Logger.LogToolResult(runID, step, name, observation)
	return observation
}

func (b *SQLBrain) invoke(ctx context.Context, runID string, registry *tools.Registry, name, args string) string {
	tool := registry.Get(name)
	if tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	if b.Policy != nil {
		res, err := b.Policy.Evaluate(ctx, governance.Request{Tool: name, Arguments: args, RunID: runID})
		if err != nil {
			return fmt.Sprintf("Error: policy evaluation failed: %v", err)
		}
		if res.Effect == governance.EffectDeny {
			b.Logger.LogPolicyCheck(runID, name, string(res.Effect), res.Reason)
			return fmt.Sprintf("Error: blocked by policy: %s", res.Reason)
		}
	}

	if err := registry.Validate(name, args); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return res
}

// extract asks the model once more, without tools, for an answer based on
// the trace so far.
func (b *SQLBrain) extract(ctx context.Context, runID string, messages []llms.MessageContent, registry *tools.Registry) string {
	log := b.Logger.Zap().With(zap.String("run_id", runID))

	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, extractPrompt))
	opts := append(append([]llms.CallOption{}, b.CallOptions...),
		llms.WithTools(registry.Definitions()),
		llms.WithToolChoice("none"),
	)

	choice, err := b.generate(ctx, runID, messages, opts...)
	if err != nil {
		log.Warn("answer extraction failed", zap.Error(err))
		return NoAnswerMessage
	}
	answer := strings.TrimSpace(choice.Content)
	if answer == "" {
		log.Warn("answer extraction returned no text")
		return NoAnswerMessage
	}
	return answer
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
