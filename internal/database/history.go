package database

import "sync"

// History records the SQL statements issued during one agent run. Each run
// owns its own History; it is never shared between runs.
type History struct {
	mu         sync.Mutex
	statements []string
}

func NewHistory() *History {
	return &History{}
}

// Append records a statement. A nil History ignores it.
func (h *History) Append(statement string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statements = append(h.statements, statement)
}

// Len returns the number of recorded statements.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.statements)
}

// Drain returns the recorded statements in order and clears the history.
func (h *History) Drain() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.statements
	if out == nil {
		out = []string{}
	}
	h.statements = nil
	return out
}
