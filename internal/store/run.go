package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/checkonaut/internal/results"
)

// Commands that produce runs.
const (
	CommandCheck = "check"
	CommandTest  = "test"
)

// Run is one archived invocation of check or test.
type Run struct {
	ID        string                `json:"id"`
	Command   string                `json:"command"`
	Args      []string              `json:"args"`
	Version   string                `json:"version"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Summary   results.Summary       `json:"summary"`
	Issues    []Issue               `json:"issues,omitempty"`
	Outcomes  []results.TestOutcome `json:"outcomes,omitempty"`
	Errors    []results.ExecError   `json:"errors,omitempty"`
}

// Issue is an archived issue with its fingerprint.
type Issue struct {
	results.Issue
	Fingerprint string `json:"fingerprint"`
}

// NewRun snapshots an aggregator into a Run. Fingerprints are filled in when
// the run is written.
func NewRun(id, command string, args []string, startedAt time.Time, d time.Duration, agg *results.Aggregator) Run {
	run := Run{
		ID:        id,
		Command:   command,
		Args:      append([]string{}, args...),
		StartedAt: startedAt,
		Duration:  d,
		Summary:   agg.Summary(),
		Outcomes:  agg.Outcomes(),
		Errors:    agg.Errors(),
	}
	for _, issue := range agg.Issues() {
		run.Issues = append(run.Issues, Issue{Issue: issue})
	}
	return run
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
