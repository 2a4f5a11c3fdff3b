package domain

import "time"

// TaskEventStatus is the only status the scanner writes.
type TaskEventStatus string

const (
	TaskEventStatusVerified TaskEventStatus = "verified"
)

// VerifiedTaskEvent records that a user satisfied a task. There is at most one
// per (TaskID, UserID); it is written once and never mutated.
type VerifiedTaskEvent struct {
	TaskID        string
	UserID        string
	WalletAddress string
	TxHash        string
	OccurredAt    time.Time
	Proof         Proof
	Status        TaskEventStatus
}

// Proof is the decoded log payload kept alongside a verified event.
type Proof struct {
	Name        string            `json:"name"`
	Args        map[string]string `json:"args"`
	BlockNumber uint64            `json:"blockNumber"`
	LogIndex    uint              `json:"logIndex"`
}
