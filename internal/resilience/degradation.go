package resilience

import (
	"log"
	"sync"
	"time"
)

// Level is the system-wide capability tier derived from component health.
type Level int

const (
	// LevelFull: all components healthy.
	LevelFull Level = iota

	// LevelDegraded: one or two components unhealthy.
	LevelDegraded

	// LevelMinimal: three or more components unhealthy.
	LevelMinimal

	// LevelEmergency: a critical component is unhealthy.
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelDegraded:
		return "degraded"
	case LevelMinimal:
		return "minimal"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Capability names an operation class gated by the degradation level.
type Capability string

const (
	CapRead         Capability = "read"
	CapSearch       Capability = "search"
	CapVectorSearch Capability = "vector_search"
	CapWrite        Capability = "write"
	CapDelete       Capability = "delete"
	CapMaintenance  Capability = "maintenance"
)

// capabilityTable maps each level to its enabled capabilities.
// Emergency keeps reads and lexical search alive but disables all writes.
var capabilityTable = map[Level]map[Capability]bool{
	LevelFull: {
		CapRead: true, CapSearch: true, CapVectorSearch: true,
		CapWrite: true, CapDelete: true, CapMaintenance: true,
	},
	LevelDegraded: {
		CapRead: true, CapSearch: true, CapVectorSearch: true,
		CapWrite: true, CapDelete: true, CapMaintenance: true,
	},
	LevelMinimal: {
		CapRead: true, CapSearch: true, CapWrite: true,
	},
	LevelEmergency: {
		CapRead: true, CapSearch: true,
	},
}

// maxTransitionHistory bounds the diagnostic transition log.
const maxTransitionHistory = 100

// Transition records one level change for diagnostics.
type Transition struct {
	From      Level     `json:"-"`
	To        Level     `json:"-"`
	FromName  string    `json:"from"`
	ToName    string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DegradationManager aggregates per-component health into a capability
// level. Components are healthy until reported otherwise.
//
// Safe for concurrent use.
type DegradationManager struct {
	mu       sync.Mutex
	health   map[string]bool
	critical map[string]bool
	level    Level
	history  []Transition
}

// NewDegradationManager creates a manager at full capability. Components
// named critical force the emergency level when unhealthy, regardless of
// how many other components are down.
func NewDegradationManager(critical ...string) *DegradationManager {
	crit := make(map[string]bool, len(critical))
	for _, name := range critical {
		crit[name] = true
	}
	return &DegradationManager{
		health:   make(map[string]bool),
		critical: crit,
		level:    LevelFull,
	}
}

// ReportHealth updates a component's health flag and recomputes the level.
func (m *DegradationManager) ReportHealth(component string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.health[component]
	if known && prev == healthy {
		return
	}
	m.health[component] = healthy
	m.recompute(component, healthy)
}

// recompute derives the level from current health. Lock must be held.
func (m *DegradationManager) recompute(component string, healthy bool) {
	unhealthy := 0
	criticalDown := false
	for name, ok := range m.health {
		if ok {
			continue
		}
		unhealthy++
		if m.critical[name] {
			criticalDown = true
		}
	}

	next := LevelFull
	switch {
	case criticalDown:
		next = LevelEmergency
	case unhealthy >= 3:
		next = LevelMinimal
	case unhealthy >= 1:
		next = LevelDegraded
	}

	if next == m.level {
		return
	}

	reason := component + " unhealthy"
	if healthy {
		reason = component + " recovered"
	}
	log.Printf("degradation: %s -> %s (%s)", m.level, next, reason)

	m.history = append(m.history, Transition{
		From: m.level, To: next,
		FromName: m.level.String(), ToName: next.String(),
		Reason: reason, Timestamp: time.Now(),
	})
	if len(m.history) > maxTransitionHistory {
		m.history = m.history[len(m.history)-maxTransitionHistory:]
	}
	m.level = next
}

// Level returns the current degradation level.
func (m *DegradationManager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Allowed reports whether a capability is enabled at the current level.
func (m *DegradationManager) Allowed(c Capability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capabilityTable[m.level][c]
}

// History returns a copy of the recorded level transitions, oldest first.
func (m *DegradationManager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// DegradationStats is a point-in-time view of system health.
type DegradationStats struct {
	Level       string          `json:"level"`
	Components  map[string]bool `json:"components"`
	Transitions int             `json:"transitions"`
}

// Stats returns current health statistics.
func (m *DegradationManager) Stats() DegradationStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	components := make(map[string]bool, len(m.health))
	for name, ok := range m.health {
		components[name] = ok
	}
	return DegradationStats{
		Level:       m.level.String(),
		Components:  components,
		Transitions: len(m.history),
	}
}
