package dispatch

import (
	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/artifacts"
	"github.com/tidemark/flotilla/pkg/jobs"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/quota"
	"github.com/tidemark/flotilla/pkg/types"
)

// SubmitRequest describes one piece of work entering the control plane
type SubmitRequest struct {
	JobID    string
	Type     string
	UserID   string
	Metadata map[string]string
}

// ArtifactInput is one output blob delivered with a completed job
type ArtifactInput struct {
	Name        string
	Content     []byte
	ContentType string
	Labels      map[string]string
}

// Dispatcher is the thin admission layer in front of the core components.
// Submit consults the quota manager before creating a job; Complete stores
// the job's outputs before closing it.
type Dispatcher struct {
	tracker   *jobs.Tracker
	artifacts *artifacts.Store
	quota     *quota.Manager
	logger    zerolog.Logger
}

// NewDispatcher wires the admission layer
func NewDispatcher(tracker *jobs.Tracker, store *artifacts.Store, qm *quota.Manager) *Dispatcher {
	return &Dispatcher{
		tracker:   tracker,
		artifacts: store,
		quota:     qm,
		logger:    log.WithComponent("dispatch"),
	}
}

// Submit admits and creates a job. A quota denial returns a nil job and the
// failing check result; only duplicate job ids produce an error.
func (d *Dispatcher) Submit(req SubmitRequest) (*types.Job, *types.QuotaCheckResult, error) {
	if req.UserID != "" {
		for _, resource := range []types.ResourceType{types.ResourceConcurrentJobs, types.ResourceBuilds} {
			result := d.quota.CheckQuota(req.UserID, resource, 1)
			if !result.Allowed {
				d.logger.Info().
					Str("job_id", req.JobID).
					Str("user_id", req.UserID).
					Str("resource", string(resource)).
					Msg("job rejected by quota")
				return nil, &result, nil
			}
		}
	}

	job, err := d.tracker.Track(req.JobID, req.Type, req.UserID, req.Metadata)
	if err != nil {
		return nil, nil, err
	}
	if req.UserID != "" {
		d.quota.IncrementBuilds(req.UserID)
	}
	return job, nil, nil
}

// Start marks a job running on a node
func (d *Dispatcher) Start(jobID, nodeID string) bool {
	return d.tracker.MarkStarted(jobID, nodeID)
}

// Progress reports job progress
func (d *Dispatcher) Progress(jobID string, progress int) bool {
	return d.tracker.UpdateProgress(jobID, progress)
}

// Complete stores the job's output blobs and closes the job as successful.
// Blobs rejected by the artifact store are skipped; the job still completes.
func (d *Dispatcher) Complete(jobID, output string, usage *types.ResourceUsage, outputs []ArtifactInput) (bool, []*types.Artifact) {
	var stored []*types.Artifact
	for _, in := range outputs {
		meta, err := d.artifacts.Store(jobID, in.Name, in.Content, in.ContentType, in.Labels)
		if err != nil {
			d.logger.Warn().Err(err).Str("job_id", jobID).Str("name", in.Name).Msg("artifact rejected")
			continue
		}
		stored = append(stored, meta)
	}
	return d.tracker.MarkCompleted(jobID, output, usage), stored
}

// Fail closes the job as failed
func (d *Dispatcher) Fail(jobID, errMsg string, exitCode int) bool {
	return d.tracker.MarkFailed(jobID, errMsg, exitCode)
}

// Cancel closes the job as cancelled
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.tracker.MarkCancelled(jobID)
}
