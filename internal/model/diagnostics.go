package model

import "time"

// OperationKind classifies a slow operation
type OperationKind string

const (
	OperationQuery    OperationKind = "query"
	OperationEndpoint OperationKind = "endpoint"
)

// SlowOperation is a query or request that exceeded its slow threshold
type SlowOperation struct {
	Kind       OperationKind     `json:"kind"`
	Identifier string            `json:"identifier"`
	Duration   time.Duration     `json:"duration"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ProcessHistoryEntry is one resource sample of a process
type ProcessHistoryEntry struct {
	PID              int32     `json:"pid"`
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	ResidentMemoryMB float64   `json:"resident_memory_mb"`
}

// AllocationSite is one entry of a heap allocation breakdown
type AllocationSite struct {
	Location string  `json:"location"`
	SizeMB   float64 `json:"size_mb"`
	Count    int64   `json:"count"`
}

// MemorySnapshot captures the top allocation sites when memory was high
type MemorySnapshot struct {
	Timestamp      time.Time        `json:"timestamp"`
	TotalMemoryMB  float64          `json:"total_memory_mb"`
	TopAllocations []AllocationSite `json:"top_allocations"`
}
