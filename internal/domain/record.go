package domain

import "time"

type EventOutcome string

const (
	OutcomeProcessed EventOutcome = "PROCESSED"
	OutcomeSkipped   EventOutcome = "SKIPPED"
)

// ProcessedEventRecord is an append-only ledger entry marking an event ID as
// applied. The store rejects a second insert for the same ID, which is the
// atomic claim that keeps effect application at-most-once under at-least-once
// delivery.
type ProcessedEventRecord struct {
	EventID     string
	Outcome     EventOutcome
	ProcessedAt time.Time
}
