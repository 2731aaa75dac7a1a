package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/storage"
	"github.com/tidemark/flotilla/pkg/types"
)

const (
	// DefaultMaxAge is the artifact TTL
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultMaxTotalSizeBytes is the global content cap
	DefaultMaxTotalSizeBytes = 10 << 30 // 10 GiB
	// DefaultMaxPerJob is the artifact count cap per job
	DefaultMaxPerJob = 50
	// DefaultMaxArtifactSizeBytes is the per-blob size cap
	DefaultMaxArtifactSizeBytes = 500 << 20 // 500 MiB
	// DefaultCleanupInterval is the background expiry cadence
	DefaultCleanupInterval = 5 * time.Minute

	defaultContentType = "application/octet-stream"
)

// Rejection reasons returned by Store.Store. These are admission results,
// not failures; the store never raises for data-driven conditions.
var (
	ErrTooLarge    = fmt.Errorf("artifact exceeds per-blob size limit")
	ErrPerJobLimit = fmt.Errorf("per-job artifact count limit reached")
	ErrCapacity    = fmt.Errorf("insufficient storage capacity")
)

// Config bounds the store
type Config struct {
	MaxAge               time.Duration
	MaxTotalSizeBytes    int64
	MaxPerJob            int
	MaxArtifactSizeBytes int64
}

// entry pairs metadata with content and an insertion sequence used to break
// eviction ties between equal StoredAt timestamps
type entry struct {
	meta    types.Artifact
	content []byte
	seq     uint64
}

// Store is a bounded content-addressed blob store indexed by job id.
// Content caps are enforced on admission; oldest artifacts are evicted
// under pressure and expired artifacts are removed by TTL.
type Store struct {
	mu        sync.Mutex
	clock     clock.Clock
	cfg       Config
	idGen     func() string
	artifacts map[string]*entry
	byJob     map[string][]string // artifact ids in insertion order
	totalSize int64
	seq       uint64
	persist   storage.Store // optional write-through persistence

	cleanupStop chan struct{}
	logger      zerolog.Logger
}

// Option customizes store construction
type Option func(*Store)

// WithPersistence makes the store write blobs through to durable storage
func WithPersistence(persist storage.Store) Option {
	return func(s *Store) { s.persist = persist }
}

// WithIDGenerator overrides the artifact id source
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.idGen = gen }
}

// NewStore creates an artifact store. Zero config fields take the defaults;
// negative values are refused.
func NewStore(cfg Config, clk clock.Clock, opts ...Option) (*Store, error) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxTotalSizeBytes == 0 {
		cfg.MaxTotalSizeBytes = DefaultMaxTotalSizeBytes
	}
	if cfg.MaxPerJob == 0 {
		cfg.MaxPerJob = DefaultMaxPerJob
	}
	if cfg.MaxArtifactSizeBytes == 0 {
		cfg.MaxArtifactSizeBytes = DefaultMaxArtifactSizeBytes
	}
	if cfg.MaxAge < 0 || cfg.MaxTotalSizeBytes < 0 || cfg.MaxPerJob < 0 || cfg.MaxArtifactSizeBytes < 0 {
		return nil, fmt.Errorf("artifact store limits must be positive")
	}

	s := &Store{
		clock:     clk,
		cfg:       cfg,
		idGen:     uuid.NewString,
		artifacts: make(map[string]*entry),
		byJob:     make(map[string][]string),
		logger:    log.WithComponent("artifacts"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store admits a blob for a job. The returned metadata is a value copy; the
// caller must not mutate content after the call accepts it. A nil metadata
// with a rejection reason is returned when a cap refuses the blob.
func (s *Store) Store(jobID, name string, content []byte, contentType string, labels map[string]string) (*types.Artifact, error) {
	size := int64(len(content))
	if size > s.cfg.MaxArtifactSizeBytes {
		s.logger.Warn().Str("job_id", jobID).Str("name", name).Int64("size", size).Msg("artifact rejected: too large")
		return nil, ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byJob[jobID]) >= s.cfg.MaxPerJob {
		s.logger.Warn().Str("job_id", jobID).Str("name", name).Msg("artifact rejected: per-job limit")
		return nil, ErrPerJobLimit
	}

	if s.totalSize+size > s.cfg.MaxTotalSizeBytes {
		s.evictLocked(s.totalSize + size - s.cfg.MaxTotalSizeBytes)
		if s.totalSize+size > s.cfg.MaxTotalSizeBytes {
			s.logger.Warn().Str("job_id", jobID).Str("name", name).Msg("artifact rejected: capacity exhausted")
			return nil, ErrCapacity
		}
	}

	sum := sha256.Sum256(content)
	now := s.clock.Now()

	if contentType == "" {
		contentType = defaultContentType
	}

	meta := types.Artifact{
		ID:          s.idGen(),
		JobID:       jobID,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   size,
		StoredAt:    now,
		ExpiresAt:   now.Add(s.cfg.MaxAge),
		Checksum:    hex.EncodeToString(sum[:]),
		Labels:      copyLabels(labels),
	}

	s.seq++
	s.artifacts[meta.ID] = &entry{meta: meta, content: content, seq: s.seq}
	s.byJob[jobID] = append(s.byJob[jobID], meta.ID)
	s.totalSize += size
	s.updateGauges()

	if s.persist != nil {
		if err := s.persist.PutArtifact(&meta, content); err != nil {
			s.logger.Error().Err(err).Str("artifact_id", meta.ID).Msg("failed to persist artifact")
		}
	}

	s.logger.Debug().Str("artifact_id", meta.ID).Str("job_id", jobID).Int64("size", size).Msg("artifact stored")
	copied := meta
	return &copied, nil
}

// Get returns a copy of the metadata and the content, or nils when unknown
func (s *Store) Get(artifactID string) (*types.Artifact, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.artifacts[artifactID]
	if !ok {
		return nil, nil
	}
	meta := e.meta
	return &meta, e.content
}

// ListByJob returns metadata copies for a job in insertion order
func (s *Store) ListByJob(jobID string) []*types.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byJob[jobID]
	out := make([]*types.Artifact, 0, len(ids))
	for _, id := range ids {
		meta := s.artifacts[id].meta
		out = append(out, &meta)
	}
	return out
}

// Delete removes one artifact. It returns false when the id is unknown.
func (s *Store) Delete(artifactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(artifactID)
}

// DeleteByJob removes every artifact of a job and returns the count
func (s *Store) DeleteByJob(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := append([]string(nil), s.byJob[jobID]...)
	for _, id := range ids {
		s.removeLocked(id)
	}
	return len(ids)
}

// CleanupExpired removes every artifact whose TTL has elapsed
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired []string
	for id, e := range s.artifacts {
		if !e.meta.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeLocked(id)
		metrics.ArtifactExpirations.Inc()
	}
	if len(expired) > 0 {
		s.logger.Info().Int("count", len(expired)).Msg("expired artifacts removed")
	}
	return len(expired)
}

// StartCleanup begins periodic background expiry
func (s *Store) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	s.mu.Lock()
	if s.cleanupStop != nil {
		s.mu.Unlock()
		return // already running
	}
	stop := make(chan struct{})
	s.cleanupStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CleanupExpired()
			case <-stop:
				return
			}
		}
	}()
}

// StopCleanup cancels the background expiry loop
func (s *Store) StopCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupStop != nil {
		close(s.cleanupStop)
		s.cleanupStop = nil
	}
}

// GetStats summarizes store usage
func (s *Store) GetStats() types.ArtifactStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := 0
	if s.cfg.MaxTotalSizeBytes > 0 {
		usage = int(math.Round(100 * float64(s.totalSize) / float64(s.cfg.MaxTotalSizeBytes)))
	}
	return types.ArtifactStats{
		TotalArtifacts: len(s.artifacts),
		TotalSizeBytes: s.totalSize,
		TotalJobs:      len(s.byJob),
		MaxSizeBytes:   s.cfg.MaxTotalSizeBytes,
		UsagePercent:   usage,
	}
}

// Verify recomputes the content checksum and compares it against the stored
// one. Unknown ids report false. A mismatch is reported, not repaired.
func (s *Store) Verify(artifactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.artifacts[artifactID]
	if !ok {
		return false
	}
	sum := sha256.Sum256(e.content)
	return hex.EncodeToString(sum[:]) == e.meta.Checksum
}

// Restore loads persisted artifacts back into memory, skipping expired
// blobs and anything the configured caps no longer admit.
func (s *Store) Restore() error {
	if s.persist == nil {
		return nil
	}

	metas, err := s.persist.ListArtifacts()
	if err != nil {
		return fmt.Errorf("failed to list persisted artifacts: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].StoredAt.Before(metas[j].StoredAt) })

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	restored := 0
	for _, meta := range metas {
		if !meta.ExpiresAt.After(now) {
			_ = s.persist.DeleteArtifact(meta.ID)
			continue
		}
		if s.totalSize+meta.SizeBytes > s.cfg.MaxTotalSizeBytes ||
			len(s.byJob[meta.JobID]) >= s.cfg.MaxPerJob {
			continue
		}
		content, err := s.persist.GetArtifactContent(meta.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("artifact_id", meta.ID).Msg("failed to restore artifact content")
			continue
		}
		s.seq++
		s.artifacts[meta.ID] = &entry{meta: *meta, content: content, seq: s.seq}
		s.byJob[meta.JobID] = append(s.byJob[meta.JobID], meta.ID)
		s.totalSize += meta.SizeBytes
		restored++
	}
	s.updateGauges()

	if restored > 0 {
		s.logger.Info().Int("count", restored).Msg("artifacts restored from storage")
	}
	return nil
}

// evictLocked frees at least the requested bytes, strictly oldest-first by
// StoredAt with insertion order breaking ties; caller holds the lock
func (s *Store) evictLocked(required int64) {
	candidates := make([]*entry, 0, len(s.artifacts))
	for _, e := range s.artifacts {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].meta.StoredAt.Equal(candidates[j].meta.StoredAt) {
			return candidates[i].seq < candidates[j].seq
		}
		return candidates[i].meta.StoredAt.Before(candidates[j].meta.StoredAt)
	})

	var freed int64
	for _, e := range candidates {
		if freed >= required {
			return
		}
		freed += e.meta.SizeBytes
		s.removeLocked(e.meta.ID)
		metrics.ArtifactEvictions.Inc()
		s.logger.Info().Str("artifact_id", e.meta.ID).Str("job_id", e.meta.JobID).Msg("artifact evicted")
	}
}

// removeLocked deletes one artifact from every index; caller holds the lock
func (s *Store) removeLocked(artifactID string) bool {
	e, ok := s.artifacts[artifactID]
	if !ok {
		return false
	}

	delete(s.artifacts, artifactID)
	s.totalSize -= e.meta.SizeBytes

	ids := s.byJob[e.meta.JobID]
	for i, id := range ids {
		if id == artifactID {
			s.byJob[e.meta.JobID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byJob[e.meta.JobID]) == 0 {
		delete(s.byJob, e.meta.JobID)
	}

	if s.persist != nil {
		if err := s.persist.DeleteArtifact(artifactID); err != nil {
			s.logger.Error().Err(err).Str("artifact_id", artifactID).Msg("failed to delete persisted artifact")
		}
	}

	s.updateGauges()
	return true
}

// updateGauges refreshes prometheus gauges; caller holds the lock
func (s *Store) updateGauges() {
	metrics.ArtifactsTotal.Set(float64(len(s.artifacts)))
	metrics.ArtifactBytes.Set(float64(s.totalSize))
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
