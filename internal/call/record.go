package call

import (
	"context"
	"time"
)

// Record is the finalized-call record handed to the persistence subsystem on
// every terminal transition. The core does not know or care how it is stored.
type Record struct {
	CallID          string
	Caller          string
	Callee          string
	Kind            Kind
	Status          Status
	Reason          string
	StartedAt       time.Time
	AnsweredAt      time.Time // zero if never answered
	EndedAt         time.Time
	DurationSeconds int
}

// Sink receives finalized-call records. Implementations live outside the
// core (internal/history provides Postgres and in-memory ones).
type Sink interface {
	RecordCall(ctx context.Context, rec Record) error
}

func recordFromSnapshot(snap Snapshot) Record {
	duration := 0
	if !snap.AnsweredAt.IsZero() && !snap.EndedAt.IsZero() {
		duration = int(snap.EndedAt.Sub(snap.AnsweredAt) / time.Second)
	}
	return Record{
		CallID:          snap.ID,
		Caller:          snap.Caller,
		Callee:          snap.Callee,
		Kind:            snap.Kind,
		Status:          snap.Status,
		Reason:          snap.Reason,
		StartedAt:       snap.CreatedAt,
		AnsweredAt:      snap.AnsweredAt,
		EndedAt:         snap.EndedAt,
		DurationSeconds: duration,
	}
}
