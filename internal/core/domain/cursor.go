package domain

import "time"

// TaskCursor records how far the scanner has reconciled a task's logs.
type TaskCursor struct {
	TaskID           string
	LastScannedBlock uint64
	UpdatedAt        time.Time
}

// NextBlock returns the first block a scan should fetch given the task floor.
// A nil cursor means the task has never been scanned.
func (c *TaskCursor) NextBlock(floor uint64) uint64 {
	if c == nil {
		return floor
	}
	return max(floor, c.LastScannedBlock+1)
}
