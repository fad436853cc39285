package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
)

// Role is what the process is busy with right now.
type Role string

const (
	RoleIdle      Role = "IDLE"
	RolePlanning  Role = "PLANNING"
	RoleExecuting Role = "EXECUTING"
	RoleVerifying Role = "VERIFYING"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentRole   Role
	ActiveTask    string
	ActiveRuns    int
	Wave          int
	LastHeartbeat time.Time
	RunsDone      int
	StepsOK       int
	StepsFailed   int
}

// StatusSnapshot is a copy of the status for rendering.
type StatusSnapshot struct {
	Role          Role
	Task          string
	ActiveRuns    int
	Wave          int
	LastHeartbeat time.Time
	RunsDone      int
	StepsOK       int
	StepsFailed   int
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.LastHeartbeat
}

func Snapshot() StatusSnapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return StatusSnapshot{
		Role:          globalStatus.CurrentRole,
		Task:          globalStatus.ActiveTask,
		ActiveRuns:    globalStatus.ActiveRuns,
		Wave:          globalStatus.Wave,
		LastHeartbeat: globalStatus.LastHeartbeat,
		RunsDone:      globalStatus.RunsDone,
		StepsOK:       globalStatus.StepsOK,
		StepsFailed:   globalStatus.StepsFailed,
	}
}

// BeginRun marks a task as in flight and returns the func that ends it.
// The role falls back to idle once no run is active.
func BeginRun(task string) func() {
	globalStatus.mu.Lock()
	globalStatus.ActiveRuns++
	globalStatus.CurrentRole = RolePlanning
	globalStatus.ActiveTask = task
	globalStatus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			globalStatus.mu.Lock()
			defer globalStatus.mu.Unlock()
			globalStatus.ActiveRuns--
			if globalStatus.ActiveRuns <= 0 {
				globalStatus.ActiveRuns = 0
				globalStatus.CurrentRole = RoleIdle
				globalStatus.ActiveTask = ""
				globalStatus.Wave = 0
			}
		})
	}
}

// ActiveRuns reports how many tasks are in flight.
func ActiveRuns() int {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.ActiveRuns
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// StatusObserver feeds engine progress into the live status line.
type StatusObserver struct{}

func (StatusObserver) WaveStarted(_ context.Context, wave int, _ []plan.StepID) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = RoleExecuting
	globalStatus.Wave = wave
}

func (StatusObserver) StepRetrying(context.Context, plan.Step, int, time.Duration, error) {}

func (StatusObserver) StepFinished(_ context.Context, res engine.ExecutionResult) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if res.Succeeded() {
		globalStatus.StepsOK++
	} else {
		globalStatus.StepsFailed++
	}
}

func (StatusObserver) RunFinished(context.Context, []engine.ExecutionResult, time.Duration) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.RunsDone++
}

var _ engine.Observer = StatusObserver{}
