package jobs

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/types"
)

const (
	// DefaultMaxHistory is the archive capacity before oldest eviction
	DefaultMaxHistory = 10000
)

// ErrDuplicateJob is returned by Track when the job id is already tracked
var ErrDuplicateJob = fmt.Errorf("job already tracked")

// Config configures the tracker
type Config struct {
	MaxHistory int
}

// Tracker is the authoritative record of every job's lifecycle and resource
// accounting. Terminal transitions archive the job into a bounded FIFO
// history; archived jobs are immutable.
type Tracker struct {
	mu         sync.RWMutex
	clock      clock.Clock
	broker     *events.Broker
	active     map[string]*types.Job
	history    []*types.Job // oldest first
	maxHistory int
	logger     zerolog.Logger
}

// NewTracker creates a job tracker
func NewTracker(cfg Config, clk clock.Clock, broker *events.Broker) (*Tracker, error) {
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.MaxHistory < 0 {
		return nil, fmt.Errorf("max history must be positive, got %d", cfg.MaxHistory)
	}

	return &Tracker{
		clock:      clk,
		broker:     broker,
		active:     make(map[string]*types.Job),
		maxHistory: cfg.MaxHistory,
		logger:     log.WithComponent("jobs"),
	}, nil
}

// Track inserts a new pending job. It fails with ErrDuplicateJob when the id
// is already tracked.
func (t *Tracker) Track(jobID, jobType, userID string, metadata map[string]string) (*types.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[jobID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}

	job := &types.Job{
		ID:        jobID,
		Type:      jobType,
		Status:    types.JobStatusPending,
		UserID:    userID,
		Metadata:  copyMetadata(metadata),
		CreatedAt: t.clock.Now(),
	}
	t.active[jobID] = job

	metrics.JobsActive.Set(float64(len(t.active)))
	t.logger.Debug().Str("job_id", jobID).Str("type", jobType).Msg("job tracked")

	copied := *job
	return &copied, nil
}

// MarkStarted moves a pending or queued job to running
func (t *Tracker) MarkStarted(jobID, nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		return false
	}
	if job.Status != types.JobStatusPending && job.Status != types.JobStatusQueued {
		return false
	}

	job.Status = types.JobStatusRunning
	job.StartedAt = t.clock.Now()
	job.NodeID = nodeID

	t.publish(events.EventJobStarted, job, fmt.Sprintf("job %s started on node %s", jobID, nodeID))
	t.logger.Info().Str("job_id", jobID).Str("node_id", nodeID).Msg("job started")
	return true
}

// UpdateProgress records progress, clamped to [0, 100]. It is a no-op on
// terminal or unknown jobs.
func (t *Tracker) UpdateProgress(jobID string, progress int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		return false
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress

	t.publish(events.EventJobProgress, job, fmt.Sprintf("job %s progress %d%%", jobID, progress))
	return true
}

// MarkCompleted moves a running job to success and archives it
func (t *Tracker) MarkCompleted(jobID, output string, usage *types.ResourceUsage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok || job.Status != types.JobStatusRunning {
		return false
	}

	job.Status = types.JobStatusSuccess
	job.Progress = 100
	job.CompletedAt = t.clock.Now()
	if !job.StartedAt.IsZero() {
		job.DurationMs = job.CompletedAt.Sub(job.StartedAt).Milliseconds()
	}
	job.ExitCode = 0
	if usage != nil {
		job.ResourceUsage = *usage
	}
	if output != "" {
		job.Output = output
		job.ResourceUsage.OutputSizeBytes = int64(len(output))
	}

	t.archive(job)
	metrics.JobDuration.Observe(float64(job.DurationMs) / 1000.0)
	t.publish(events.EventJobCompleted, job, fmt.Sprintf("job %s completed in %dms", jobID, job.DurationMs))
	t.logger.Info().Str("job_id", jobID).Int64("duration_ms", job.DurationMs).Msg("job completed")
	return true
}

// MarkFailed moves a pending, queued or running job to failed and archives it
func (t *Tracker) MarkFailed(jobID, errMsg string, exitCode int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok {
		return false
	}
	switch job.Status {
	case types.JobStatusPending, types.JobStatusQueued, types.JobStatusRunning:
	default:
		return false
	}

	t.terminate(job, types.JobStatusFailed, errMsg, exitCode)
	t.publish(events.EventJobFailed, job, fmt.Sprintf("job %s failed: %s", jobID, errMsg))
	t.logger.Warn().Str("job_id", jobID).Str("error", errMsg).Msg("job failed")
	return true
}

// MarkCancelled moves any non-terminal job to cancelled and archives it
func (t *Tracker) MarkCancelled(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok || job.Status.Terminal() {
		return false
	}

	t.terminate(job, types.JobStatusCancelled, "", job.ExitCode)
	t.publish(events.EventJobCancelled, job, fmt.Sprintf("job %s cancelled", jobID))
	t.logger.Info().Str("job_id", jobID).Msg("job cancelled")
	return true
}

// MarkTimedOut moves any non-terminal job to timed_out and archives it.
// Timeouts are decided by external runners; the tracker only records them.
func (t *Tracker) MarkTimedOut(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[jobID]
	if !ok || job.Status.Terminal() {
		return false
	}

	t.terminate(job, types.JobStatusTimedOut, "deadline exceeded", 1)
	t.publish(events.EventJobFailed, job, fmt.Sprintf("job %s timed out", jobID))
	t.logger.Warn().Str("job_id", jobID).Msg("job timed out")
	return true
}

// terminate applies a terminal transition and archives; caller holds the lock
func (t *Tracker) terminate(job *types.Job, status types.JobStatus, errMsg string, exitCode int) {
	job.Status = status
	job.CompletedAt = t.clock.Now()
	if !job.StartedAt.IsZero() {
		job.DurationMs = job.CompletedAt.Sub(job.StartedAt).Milliseconds()
	}
	job.Error = errMsg
	job.ExitCode = exitCode
	t.archive(job)
}

// archive moves a job from the active map to the history buffer, evicting
// the oldest entry on overflow; caller holds the lock
func (t *Tracker) archive(job *types.Job) {
	delete(t.active, job.ID)
	t.history = append(t.history, job)
	if len(t.history) > t.maxHistory {
		t.history = t.history[1:]
	}

	metrics.JobsActive.Set(float64(len(t.active)))
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
}

// publish emits a notification; caller holds the lock, which preserves
// per-job transition order on the broker's dispatch loop
func (t *Tracker) publish(eventType events.EventType, job *types.Job, message string) {
	if t.broker == nil {
		return
	}
	copied := *job
	t.broker.Publish(&events.Event{
		Type:      eventType,
		Timestamp: t.clock.Now(),
		JobID:     job.ID,
		NodeID:    job.NodeID,
		Message:   message,
		Payload:   copied,
	})
}

// GetJob returns a copy of an active job, or nil once it is archived
func (t *Tracker) GetJob(jobID string) *types.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.active[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// GetActiveJobs returns copies of all non-terminal jobs
func (t *Tracker) GetActiveJobs() []*types.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.Job, 0, len(t.active))
	for _, job := range t.active {
		copied := *job
		out = append(out, &copied)
	}
	return out
}

// GetHistory returns archived jobs, most recent first. A limit <= 0 returns
// the whole history.
func (t *Tracker) GetHistory(limit int) []*types.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*types.Job, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copied := *t.history[i]
		out = append(out, &copied)
	}
	return out
}

// GetJobsByUser returns active and archived jobs for a user
func (t *Tracker) GetJobsByUser(userID string) []*types.Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Job
	for _, job := range t.active {
		if job.UserID == userID {
			copied := *job
			out = append(out, &copied)
		}
	}
	for _, job := range t.history {
		if job.UserID == userID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out
}

// GetStats summarizes tracker state. Average duration is the arithmetic
// mean over archived successful jobs, rounded to integer milliseconds.
func (t *Tracker) GetStats() types.JobStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := types.JobStats{ActiveJobs: len(t.active)}

	var totalDuration float64
	for _, job := range t.history {
		switch job.Status {
		case types.JobStatusSuccess:
			stats.CompletedJobs++
			totalDuration += float64(job.DurationMs)
		case types.JobStatusFailed, types.JobStatusTimedOut:
			stats.FailedJobs++
		}
	}
	if stats.CompletedJobs > 0 {
		stats.AvgDurationMs = int64(math.Round(totalDuration / float64(stats.CompletedJobs)))
	}
	return stats
}

func copyMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
