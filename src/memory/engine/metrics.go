package engine

import "sync/atomic"

// Metrics captures lightweight runtime counters for observability.
type Metrics struct {
	captured     atomic.Int64
	gateRejected atomic.Int64
	stored       atomic.Int64
	duplicates   atomic.Int64
	recalled     atomic.Int64
	forgotten    atomic.Int64
	sleepCycles  atomic.Int64
	injections   atomic.Int64
}

func (m *Metrics) IncCaptured()     { m.captured.Add(1) }
func (m *Metrics) IncGateRejected() { m.gateRejected.Add(1) }
func (m *Metrics) IncStored()       { m.stored.Add(1) }
func (m *Metrics) IncDuplicates()   { m.duplicates.Add(1) }
func (m *Metrics) IncRecalled(n int) {
	m.recalled.Add(int64(n))
}
func (m *Metrics) IncForgotten(n int) {
	m.forgotten.Add(int64(n))
}
func (m *Metrics) IncSleepCycles() { m.sleepCycles.Add(1) }
func (m *Metrics) IncInjections()  { m.injections.Add(1) }

// MetricsSnapshot returns the current values for reporting/logging.
type MetricsSnapshot struct {
	Captured     int64 `json:"captured"`
	GateRejected int64 `json:"gate_rejected"`
	Stored       int64 `json:"stored"`
	Duplicates   int64 `json:"duplicates"`
	Recalled     int64 `json:"recalled"`
	Forgotten    int64 `json:"forgotten"`
	SleepCycles  int64 `json:"sleep_cycles"`
	Injections   int64 `json:"injections"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Captured:     m.captured.Load(),
		GateRejected: m.gateRejected.Load(),
		Stored:       m.stored.Load(),
		Duplicates:   m.duplicates.Load(),
		Recalled:     m.recalled.Load(),
		Forgotten:    m.forgotten.Load(),
		SleepCycles:  m.sleepCycles.Load(),
		Injections:   m.injections.Load(),
	}
}
