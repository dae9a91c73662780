package model

import "time"

type Operation string

const (
	OpFill     Operation = "Fill"
	OpDispense Operation = "Dispense"
	OpDrain    Operation = "Drain"

	// OpTerminated names the completion synthesised when a stop request
	// had to be escalated.
	OpTerminated Operation = "Terminated"
)

var Operations = []Operation{OpFill, OpDispense, OpDrain}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

type Role string

const (
	RoleDispenser Role = "dispenser"
	RoleRetractor Role = "retractor"
)

type PumpStatus struct {
	Role           Role    `json:"role"`
	UnitID         int     `json:"unit_id"`
	MaxRPM         int     `json:"max_rpm"`
	Connected      bool    `json:"connected"`
	Running        bool    `json:"running"`
	RPM            int     `json:"rpm"`
	Direction      string  `json:"direction"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
	Simulated      bool    `json:"simulated"`
}

// RunStatus describes the in-flight operation, if any.
type RunStatus struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Scheduled bool      `json:"scheduled"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   float64   `json:"elapsed"`
	Total     float64   `json:"total"`
}

type ScheduleState struct {
	Active          bool      `json:"active"`
	IntervalMinutes int       `json:"interval_minutes"`
	DurationSeconds int       `json:"duration_seconds"`
	NextFire        time.Time `json:"next_fire,omitempty"`
}

type Progress struct {
	RunID     string
	Operation Operation
	Elapsed   time.Duration
	Total     time.Duration
}

type Completion struct {
	RunID     string    `json:"run_id"`
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	Outcome   Outcome   `json:"outcome"`
	Scheduled bool      `json:"scheduled"`
	Error     string    `json:"error,omitempty"`
}
