package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle Role = "IDLE"
	RoleBusy Role = "BUSY"
)

type SystemStatus struct {
	mu            sync.RWMutex
	ActiveRuns    int
	LastQuestion  string
	LastHeartbeat time.Time
	StartedAt     time.Time
}

// StatusSnapshot is a point-in-time copy of the system status.
type StatusSnapshot struct {
	Role          Role      `json:"role"`
	ActiveRuns    int       `json:"active_runs"`
	LastQuestion  string    `json:"last_question,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Uptime        string    `json:"uptime"`
}

var globalStatus = &SystemStatus{
	LastHeartbeat: time.Now(),
	StartedAt:     time.Now(),
}

// BeginRun marks an agent run as active. The returned func marks it done.
func BeginRun(question string) func() {
	globalStatus.mu.Lock()
	globalStatus.ActiveRuns++
	globalStatus.LastQuestion = question
	globalStatus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			globalStatus.mu.Lock()
			defer globalStatus.mu.Unlock()
			globalStatus.ActiveRuns--
		})
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() StatusSnapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()

	role := RoleIdle
	if globalStatus.ActiveRuns > 0 {
		role = RoleBusy
	}
	return StatusSnapshot{
		Role:          role,
		ActiveRuns:    globalStatus.ActiveRuns,
		LastQuestion:  globalStatus.LastQuestion,
		LastHeartbeat: globalStatus.LastHeartbeat,
		Uptime:        time.Since(globalStatus.StartedAt).Round(time.Second).String(),
	}
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
