// Package csvsink writes query results to CSV files: an always-on
// append-only log of SELECT results and data modifications, and on-demand
// named exports.
package csvsink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	SelectLogFile       = "query_results.csv"
	ModificationLogFile = "modifications_log.csv"

	timestampLayout = "2006-01-02 15:04:05"
	filenameLayout  = "20060102_150405"
	maxHeaderSQL    = 100
)

// Sink writes CSV files relative to Dir.
type Sink struct {
	Dir string
	Now func() time.Time

	mu sync.Mutex // serializes appends to the shared log files
}

// New returns a Sink rooted at dir. An empty dir means the working directory.
func New(dir string) *Sink {
	return &Sink{Dir: dir, Now: time.Now}
}

// LogSelect appends a timestamped block with the rows of a SELECT to the
// select log. Empty results are not logged.
func (s *Sink) LogSelect(statement string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolve(SelectLogFile)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", SelectLogFile, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if exists {
		_ = w.Write([]string{""})
	}
	_ = w.Write([]string{fmt.Sprintf("=== AUTO-SAVED Query at: %s ===", s.timestamp())})
	_ = w.Write([]string{fmt.Sprintf("SQL: %s...", truncate(statement, maxHeaderSQL))})
	for _, row := range rows {
		_ = w.Write(cells(row))
	}
	w.Flush()
	return w.Error()
}

// LogModification appends one (timestamp, statement) line to the
// modification log.
func (s *Sink) LogModification(statement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolve(ModificationLogFile)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ModificationLogFile, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{s.timestamp(), statement})
	w.Flush()
	return w.Error()
}

// Export writes data to a new CSV file, replacing any file of the same name.
// data is a decoded JSON value and must be a non-empty list of rows. The
// result is always a message: "Success: ..." or "Error: ...".
func (s *Sink) Export(data any, filename, description string) string {
	if isEmpty(data) {
		return "Error: No data provided."
	}
	list, ok := data.([]any)
	if !ok {
		return fmt.Sprintf("Error: Data must be a list, received %s.", kindOf(data))
	}

	if filename == "" {
		filename = fmt.Sprintf("query_%s.csv", s.now().Format(filenameLayout))
	}
	if !strings.HasSuffix(filename, ".csv") {
		filename += ".csv"
	}

	path, err := s.resolve(filename)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if description != "" {
		_ = w.Write([]string{"Generated at: " + s.timestamp()})
		_ = w.Write([]string{"Description: " + description})
		_ = w.Write([]string{""})
	}
	for _, item := range list {
		row, ok := item.([]any)
		if !ok {
			row = []any{item}
		}
		_ = w.Write(cells(row))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return "Success: Data saved to " + path
}

// resolve maps name to an absolute path inside Dir. Paths that leave Dir,
// absolute or through "..", are rejected.
func (s *Sink) resolve(name string) (string, error) {
	root, err := filepath.Abs(s.Dir)
	if err != nil {
		return "", err
	}
	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path %q: outside the output directory", name)
	}
	return target, nil
}

func (s *Sink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sink) timestamp() string {
	return s.now().Format(timestampLayout)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func isEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func kindOf(data any) string {
	switch data.(type) {
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", data)
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cell(v)
	}
	return out
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(timestampLayout)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
