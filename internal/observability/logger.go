package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning   EventType = "reasoning"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeCost        EventType = "cost"
	EventTypeRun         EventType = "run"
	EventTypeJob         EventType = "job"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Config selects the log level and encoding.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	LLMLogPath string // mirror of LLM events; empty disables it
}

// Logger handles structured logging.
type Logger struct {
	z          *zap.Logger
	llmLogPath string
	maxSize    int64
	fileMu     sync.Mutex
}

func NewLogger(cfg Config) (*Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{
		z:          z,
		llmLogPath: cfg.LLMLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Zap exposes the underlying logger for packages that log plain messages.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	fields := []zap.Field{zap.String("type", string(evt.Type))}
	if evt.RunID != "" {
		fields = append(fields, zap.String("run_id", evt.RunID))
	}
	if evt.JobID != "" {
		fields = append(fields, zap.String("job_id", evt.JobID))
	}
	fields = append(fields, zap.Any("data", evt.Data))

	if evt.Type == EventTypeLLM {
		l.z.Debug("event", fields...)
		l.writeToFile(evt)
		return
	}
	l.z.Info("event", fields...)
}

func (l *Logger) writeToFile(evt Event) {
	if l.llmLogPath == "" {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		l.z.Warn("failed to marshal event", zap.Error(err))
		return
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.z.Warn("failed to create log directory", zap.Error(err))
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.z.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.z.Warn("failed to write to log file", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogReasoning(runID, content string) {
	l.Log(Event{
		Type:  EventTypeReasoning,
		RunID: runID,
		Data:  map[string]string{"content": content},
	})
}

func (l *Logger) LogToolCall(runID string, step int, tool, args string) {
	l.Log(Event{
		Type:  EventTypeToolCall,
		RunID: runID,
		Data: map[string]any{
			"step": step,
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(runID string, step int, tool, result string) {
	l.Log(Event{
		Type:  EventTypeToolResult,
		RunID: runID,
		Data: map[string]any{
			"step":   step,
			"tool":   tool,
			"result": result,
		},
	})
}

func (l *Logger) LogPolicyCheck(runID, tool, effect, reason string) {
	l.Log(Event{
		Type:  EventTypePolicyCheck,
		RunID: runID,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogCost(runID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:  EventTypeCost,
		RunID: runID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogRun(runID, status string, iterations int) {
	l.Log(Event{
		Type:  EventTypeRun,
		RunID: runID,
		Data: map[string]any{
			"status":     status,
			"iterations": iterations,
		},
	})
}

func (l *Logger) LogJob(jobID, status string, detail string) {
	l.Log(Event{
		Type:  EventTypeJob,
		JobID: jobID,
		Data: map[string]string{
			"status": status,
			"detail": detail,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(runID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:  EventTypeLLM,
		RunID: runID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
