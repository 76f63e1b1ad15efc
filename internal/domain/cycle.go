package domain

import "time"

// CycleStatus is how one instrument cycle ended.
type CycleStatus string

const (
	CycleCompleted CycleStatus = "COMPLETED"
	CycleDropped   CycleStatus = "DROPPED"  // another cycle for the instrument was in flight
	CyclePaused    CycleStatus = "PAUSED"   // market paused after an auth failure
	CycleShutdown  CycleStatus = "SHUTDOWN" // shutdown was requested
	CycleFailed    CycleStatus = "FAILED"
)

// CycleResult reports one pass of fetch, strategy, risk and execution for
// one instrument.
type CycleResult struct {
	Market       string
	Instrument   string
	At           time.Time
	Status       CycleStatus
	Signal       Signal
	Approved     bool
	RejectReason string
	Outcome      *OrderOutcome
	Duplicate    bool
	Err          error
	Duration     time.Duration
}
