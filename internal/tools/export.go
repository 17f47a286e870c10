package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Exporter writes an explicit row set to a named CSV file.
type Exporter interface {
	Export(data any, filename, description string) string
}

// ExportTool saves rows the agent already retrieved into their own CSV file.
type ExportTool struct {
	Sink Exporter
}

func NewExportTool(sink Exporter) *ExportTool {
	return &ExportTool{Sink: sink}
}

func (e *ExportTool) Name() string {
	return "save_data_to_csv"
}

func (e *ExportTool) Description() string {
	return "Creates an individual CSV file with query results when the user explicitly asks to save/export data. " +
		"Input: data (list of rows, each row a list of values), filename (str, optional), " +
		"query_description (str, optional). Output: (str) - Success message with file path. " +
		"NOTE: All SELECT results are already auto-saved to 'query_results.csv', so only use this tool " +
		"when the user specifically requests to save/export to a named file."
}

func (e *ExportTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"data": map[string]any{
				"type":        "array",
				"description": "Rows to save; each row is a list of values",
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{},
				},
			},
			"filename": map[string]any{
				"type":        "string",
				"description": "Name of the CSV file inside the output directory; .csv is appended when missing",
			},
			"query_description": map[string]any{
				"type":        "string",
				"description": "Description written at the top of the file",
			},
		},
		"required": []string{"data"},
	}
}

func (e *ExportTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Data        any    `json:"data"`
		Filename    string `json:"filename"`
		Description string `json:"query_description"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	return e.Sink.Export(args.Data, args.Filename, args.Description), nil
}
