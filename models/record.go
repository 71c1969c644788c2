// Package models defines data structures shared across the monitor.
package models

import "time"

// Status is the lifecycle state of a tracked item's purchase record.
type Status string

const (
	// StatusReady means no attempt is in flight and the item may be admitted.
	StatusReady Status = "ready"
	// StatusAttempting means an attempt is running until CompletesAt.
	StatusAttempting Status = "attempting"
	// StatusPurchased is the terminal state of a successful attempt.
	StatusPurchased Status = "purchased"
	// StatusFailed is the terminal state of an unsuccessful attempt.
	StatusFailed Status = "failed"
)

// PurchaseRecord tracks one item's purchase attempt lifecycle. Exactly one
// record exists per TCIN; records are overwritten in place, never deleted.
type PurchaseRecord struct {
	TCIN          string    `json:"tcin"`
	Status        Status    `json:"status"`
	Title         string    `json:"title,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	CompletesAt   time.Time `json:"completes_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
	FinalOutcome  Status    `json:"final_outcome,omitempty"`
	OrderNumber   string    `json:"order_number,omitempty"`
	Price         float64   `json:"price,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	AttemptCount  int       `json:"attempt_count,omitempty"`
	WindowID      int64     `json:"window_id,omitempty"`
}

// NewRecord returns a fresh ready record for a first-seen TCIN.
func NewRecord(tcin, title string) PurchaseRecord {
	return PurchaseRecord{
		TCIN:   tcin,
		Status: StatusReady,
		Title:  title,
	}
}

// Terminal reports whether the record is in a completed state.
func (r PurchaseRecord) Terminal() bool {
	return r.Status == StatusPurchased || r.Status == StatusFailed
}

// Due reports whether an attempting record's pre-computed completion
// time has passed.
func (r PurchaseRecord) Due(now time.Time) bool {
	return r.Status == StatusAttempting && !now.Before(r.CompletesAt)
}

// Snapshot is a consistent view of all records plus derived counts,
// consumed by the dashboard layer.
type Snapshot struct {
	Records    map[string]PurchaseRecord `json:"records"`
	Ready      int                       `json:"ready"`
	Attempting int                       `json:"attempting"`
	Purchased  int                       `json:"purchased"`
	Failed     int                       `json:"failed"`
	TakenAt    time.Time                 `json:"taken_at"`
}

// BuildSnapshot derives counts from a record map.
func BuildSnapshot(records map[string]PurchaseRecord, now time.Time) Snapshot {
	snap := Snapshot{
		Records: records,
		TakenAt: now,
	}
	for _, rec := range records {
		switch rec.Status {
		case StatusReady:
			snap.Ready++
		case StatusAttempting:
			snap.Attempting++
		case StatusPurchased:
			snap.Purchased++
		case StatusFailed:
			snap.Failed++
		}
	}
	return snap
}
