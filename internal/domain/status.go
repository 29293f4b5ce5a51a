package domain

import "time"

// CompetitionStatus is the lifecycle state of a competition.
type CompetitionStatus string

const (
	StatusUpcoming  CompetitionStatus = "upcoming"
	StatusActive    CompetitionStatus = "active"
	StatusCompleted CompetitionStatus = "completed"
)

// DeriveStatus resolves the status from the time boundaries. Completed is
// sticky once finalized, so an early finalize never reverts to active.
func DeriveStatus(c Competition, now time.Time, finalized bool) CompetitionStatus {
	switch {
	case finalized:
		return StatusCompleted
	case now.Before(c.StartDate):
		return StatusUpcoming
	case now.Before(c.EndDate):
		return StatusActive
	default:
		return StatusCompleted
	}
}
