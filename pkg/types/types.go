package types

import (
	"time"
)

// Node represents a worker node known to the control plane
type Node struct {
	ID            string
	Region        string
	Address       string
	Hostname      string
	Labels        map[string]string
	Capacity      *NodeCapacity
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NodeStatus represents the current state of a node
type NodeStatus string

const (
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusDown     NodeStatus = "down"
	NodeStatusDraining NodeStatus = "draining"
	NodeStatusUnknown  NodeStatus = "unknown"
)

// NodeCapacity tracks resource capacity and allocation
type NodeCapacity struct {
	// Total capacity
	CPUCores    int
	MemoryBytes int64
	DiskBytes   int64

	// Currently allocated (reserved by running jobs)
	CPUAllocated    float64
	MemoryAllocated int64
	DiskAllocated   int64
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut:
		return true
	}
	return false
}

// ResourceUsage accumulates resource consumption for a single job
type ResourceUsage struct {
	CPUTimeMs       int64
	PeakMemoryBytes int64
	OutputSizeBytes int64
}

// Job represents a build/CI job tracked by the control plane
type Job struct {
	ID            string
	Type          string
	Status        JobStatus
	Progress      int // 0-100
	NodeID        string
	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	DurationMs    int64
	ResourceUsage ResourceUsage
	Output        string
	Error         string
	ExitCode      int
	UserID        string
	Metadata      map[string]string
}

// JobStats summarizes job tracker state
type JobStats struct {
	ActiveJobs    int
	CompletedJobs int
	FailedJobs    int
	AvgDurationMs int64
}

// Artifact is the metadata for a stored blob. The content itself is owned
// by the artifact store and returned separately.
type Artifact struct {
	ID          string
	JobID       string
	Name        string
	ContentType string
	SizeBytes   int64
	StoredAt    time.Time
	ExpiresAt   time.Time
	Checksum    string // SHA-256 of content, lowercase hex
	Labels      map[string]string
}

// ArtifactStats summarizes artifact store usage
type ArtifactStats struct {
	TotalArtifacts int
	TotalSizeBytes int64
	TotalJobs      int
	MaxSizeBytes   int64
	UsagePercent   int
}

// EntityType identifies what kind of principal a quota applies to
type EntityType string

const (
	EntityTypeUser EntityType = "user"
	EntityTypeOrg  EntityType = "org"
	EntityTypePlan EntityType = "plan"
)

// ResourceType identifies the dimension a quota check applies to
type ResourceType string

const (
	ResourceCPU            ResourceType = "cpu"
	ResourceRAM            ResourceType = "ram"
	ResourceStorage        ResourceType = "storage"
	ResourceConcurrentJobs ResourceType = "concurrent-jobs"
	ResourceBuilds         ResourceType = "builds"
)

// QuotaDefinition is the administrative limit set for an entity
type QuotaDefinition struct {
	ID                      string
	EntityID                string
	EntityType              EntityType
	MaxCPUMinutes           int64
	MaxRAMMb                int64
	MaxStorageMb            int64
	MaxConcurrentJobs       int64
	MaxBuildsPerDay         int64
	WarningThresholdPercent int // 0-100
	HardLimit               bool
}

// QuotaUsageSnapshot is the most recently reported cumulative usage for an
// entity. DailyResetDate is a UTC date in YYYY-MM-DD form; BuildsToday is
// reset when the date rolls over.
type QuotaUsageSnapshot struct {
	EntityID       string
	CPUMinutesUsed int64
	RAMMbUsed      int64
	StorageMbUsed  int64
	ConcurrentJobs int64
	BuildsToday    int64
	DailyResetDate string
}

// QuotaCheckResult is the outcome of an admission check
type QuotaCheckResult struct {
	Allowed      bool
	QuotaID      string
	EntityID     string
	ResourceType ResourceType
	CurrentUsage int64 // projected usage (current + requested)
	Limit        int64
	UsagePercent int
	Warning      bool
	Message      string
}

// RegionState represents the failover state machine position for a region
type RegionState string

const (
	RegionStateNormal      RegionState = "normal"
	RegionStateDegraded    RegionState = "degraded"
	RegionStateFailingOver RegionState = "failing_over"
	RegionStateFailedOver  RegionState = "failed_over"
	RegionStateFailingBack RegionState = "failing_back"
)

// RegionConfig configures failover behavior for one region
type RegionConfig struct {
	RegionID          string
	BackupRegionID    string
	FailureThreshold  int
	CheckInterval     time.Duration
	FailbackDelay     time.Duration
	RecoveryThreshold int
}

// FailoverEvent records one state transition for a region
type FailoverEvent struct {
	FromRegion string
	ToRegion   string
	State      RegionState
	Reason     string
	Timestamp  time.Time
}

// RegionStatus is a read-only snapshot of a region's failover state
type RegionStatus struct {
	Config               RegionConfig
	State                RegionState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	FailedOverAt         time.Time
	LastCheckAt          time.Time
}

// HealthCheckResult is one health observation for a region
type HealthCheckResult struct {
	RegionID       string
	Healthy        bool
	ResponseTimeMs int64
	HealthyNodes   int
	TotalNodes     int
	CheckedAt      time.Time
}

// IdleState represents the idle/sleep lifecycle position for a node
type IdleState string

const (
	IdleStateActive   IdleState = "active"
	IdleStateIdle     IdleState = "idle"
	IdleStateSleeping IdleState = "sleeping"
	IdleStateWaking   IdleState = "waking"
)

// IdleNodeStatus is a read-only snapshot of a node's idle tracking entry
type IdleNodeStatus struct {
	NodeID                string
	State                 IdleState
	IdleSince             time.Time
	SleepingSince         time.Time
	TotalSleepTime        time.Duration
	CostPerHourCents      int64
	EstimatedSavingsCents int64
	AutoSleepEnabled      bool
}
