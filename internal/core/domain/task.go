package domain

// TaskTypeOnchainEvent marks tasks the scanner is responsible for.
const TaskTypeOnchainEvent = "onchain_event"

// TaskDefinition describes an on-chain action that satisfies a quest task.
type TaskDefinition struct {
	ID              string
	QuestID         string
	ChainID         ChainID
	ContractAddress string
	EventSig        string
	// Topic0 overrides the topic derived from EventSig when set.
	Topic0     string
	ArgFilters *ArgFilter
	// MinBlock is the scan floor; nil falls back to the configured default.
	MinBlock *uint64
}

// ScanFloor returns the lowest block the task may be scanned from.
func (t *TaskDefinition) ScanFloor(defaultStart uint64) uint64 {
	if t.MinBlock != nil {
		return *t.MinBlock
	}
	return defaultStart
}
