// Package scheduler admits, queues, and dispatches generation jobs. Each
// provider runs its own fixed-width worker lane; within a lane jobs
// dispatch by priority and then enqueue order.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/providers"
	"storyreel/internal/storage"
)

// Selector resolves the provider client that will run a job.
type Selector interface {
	Select(ctx context.Context, userID string, capability providers.Capability) (*providers.Selection, error)
}

// EnqueueRequest carries the admission inputs for one job. A nil Priority
// takes the default; zero is a valid, highest-urgency value.
type EnqueueRequest struct {
	ProjectID string
	UserID    string
	Type      domain.JobType
	Priority  *int
	Payload   domain.JobPayload
}

// Options configures a Scheduler.
type Options struct {
	Jobs     domain.JobRepository
	Assets   domain.AssetRepository
	Selector Selector
	Store    storage.Store
	Logger   *infra.Logger
	// LaneWidth is the number of concurrent workers per provider lane.
	LaneWidth int
	// MaxAttempts bounds retries of transient provider failures.
	MaxAttempts int
}

// running tracks one in-flight job so cancellation can reach it.
type running struct {
	cancel      context.CancelFunc
	cancellable bool
}

// Scheduler owns the job lifecycle from admission to terminal state.
type Scheduler struct {
	jobs        domain.JobRepository
	assets      domain.AssetRepository
	selector    Selector
	store       storage.Store
	logger      infra.Logger
	laneWidth   int
	maxAttempts int

	seq    atomic.Uint64
	paused atomic.Bool

	mu sync.Mutex
	// lanes are keyed by provider id so a slow local backend only holds up
	// its own jobs, never work destined for a sibling provider of the same
	// capability. Lanes appear as providers are first selected.
	lanes    map[string]*lane
	newLanes chan *lane
	started  bool
	active   map[string]*running
}

// New constructs a Scheduler. Start must be called before jobs dispatch.
func New(opts Options) (*Scheduler, error) {
	if opts.Jobs == nil {
		return nil, errors.New("scheduler: job repository is required")
	}
	if opts.Selector == nil {
		return nil, errors.New("scheduler: selector is required")
	}
	laneWidth := opts.LaneWidth
	if laneWidth <= 0 {
		laneWidth = 1
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var logger infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = infra.NopLogger()
	}
	s := &Scheduler{
		jobs:        opts.Jobs,
		assets:      opts.Assets,
		selector:    opts.Selector,
		store:       opts.Store,
		logger:      logger,
		laneWidth:   laneWidth,
		maxAttempts: maxAttempts,
		lanes:       make(map[string]*lane),
		newLanes:    make(chan *lane, 64),
		active:      make(map[string]*running),
	}
	return s, nil
}

// laneFor returns the dispatch lane of one provider, creating it on first
// use. Lanes created after Start get their workers through the supervisor.
func (s *Scheduler) laneFor(provider string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	ln, ok := s.lanes[provider]
	if !ok {
		ln = newLane()
		s.lanes[provider] = ln
		if s.started {
			s.newLanes <- ln
		}
	}
	return ln
}

// waitingLane returns the lane a queued job sits in. Rows recovered without
// a provider fall back to a capability-wide lane.
func (s *Scheduler) waitingLane(job *domain.Job) *lane {
	if job.Provider != "" {
		return s.laneFor(job.Provider)
	}
	capability, err := providers.CapabilityForJobType(job.Type)
	if err != nil {
		return nil
	}
	return s.laneFor(string(capability))
}

// recoverer is the optional repository surface for crash recovery.
type recoverer interface {
	ClaimOrphans(ctx context.Context, limit int) ([]domain.Job, error)
	ListQueued(ctx context.Context) ([]domain.Job, error)
}

// Recover refills the lanes from the repository: rows left active by a
// crashed worker go back to queued, then every waiting row is loaded in
// dispatch order. Call once at startup, before Start.
func (s *Scheduler) Recover(ctx context.Context) error {
	rec, ok := s.jobs.(recoverer)
	if !ok {
		return nil
	}
	orphans, err := rec.ClaimOrphans(ctx, 1000)
	if err != nil {
		return fmt.Errorf("scheduler: claim orphans: %w", err)
	}
	if len(orphans) > 0 {
		s.logger.Warn().Int("count", len(orphans)).Msg("requeued orphaned jobs")
	}
	queued, err := rec.ListQueued(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list queued: %w", err)
	}
	for i := range queued {
		job := queued[i]
		if job.Sequence > s.seq.Load() {
			s.seq.Store(job.Sequence)
		}
		ln := s.waitingLane(&job)
		if ln == nil {
			s.logger.Error().Str("job_id", job.ID).Str("type", string(job.Type)).Msg("cannot recover job with unknown type")
			continue
		}
		ln.push(&job)
	}
	return nil
}

// Start runs the lane workers until ctx is cancelled. It blocks. A
// supervisor goroutine attaches workers to lanes that first appear while
// the scheduler is running.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	spawn := func(ln *lane) {
		for i := 0; i < s.laneWidth; i++ {
			g.Go(func() error {
				s.runLane(ctx, ln)
				return nil
			})
		}
	}
	s.mu.Lock()
	s.started = true
	existing := make([]*lane, 0, len(s.lanes))
	for _, ln := range s.lanes {
		existing = append(existing, ln)
	}
	s.mu.Unlock()
	for _, ln := range existing {
		spawn(ln)
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ln := <-s.newLanes:
				spawn(ln)
			}
		}
	})
	return g.Wait()
}

func (s *Scheduler) runLane(ctx context.Context, ln *lane) {
	for {
		if !s.paused.Load() {
			if job := ln.pop(); job != nil {
				s.process(ctx, job)
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ln.wake:
		}
	}
}

// Enqueue validates, persists, and queues a job. A user with no usable
// provider for the job's capability is rejected here, before anything is
// persisted; only jobs with a live provider at admission get a job id.
// Execution is asynchronous.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if err := req.Payload.Validate(req.Type); err != nil {
		return nil, err
	}
	capability, err := providers.CapabilityForJobType(req.Type)
	if err != nil {
		return nil, err
	}
	sel, err := s.selector.Select(ctx, req.UserID, capability)
	if err != nil {
		return nil, err
	}
	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", domain.ErrValidation, err)
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		UserID:      req.UserID,
		Type:        req.Type,
		Status:      domain.JobStatusQueued,
		Priority:    priority,
		Sequence:    s.seq.Add(1),
		Provider:    sel.Descriptor.ID,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.laneFor(job.Provider).push(job)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("provider", job.Provider).
		Int("priority", job.Priority).
		Msg("job enqueued")
	return job, nil
}

// Cancel moves a queued job straight to cancelled. An active job is
// cancelled only when its in-flight call is cooperative; otherwise the
// caller gets ErrConflict and the job runs to completion.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job already %s", domain.ErrConflict, job.Status)
	}
	if job.Status == domain.JobStatusQueued {
		if ln := s.waitingLane(job); ln != nil && ln.remove(jobID) {
			return s.jobs.Finish(ctx, jobID, domain.JobStatusCancelled, "", nil)
		}
		// The job left the lane between the read and the remove; fall
		// through and treat it as active.
	}

	s.mu.Lock()
	r, ok := s.active[jobID]
	s.mu.Unlock()
	if !ok || !r.cancellable {
		return fmt.Errorf("%w: cannot cancel: already processing", domain.ErrConflict)
	}
	// Write the terminal state first so a concurrently finishing worker
	// loses the race and no-ops, then interrupt the provider call.
	if err := s.jobs.Finish(ctx, jobID, domain.JobStatusCancelled, "", nil); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: cannot cancel: already finished", domain.ErrConflict)
		}
		return err
	}
	r.cancel()
	s.logger.Info().Str("job_id", jobID).Msg("job cancelled")
	return nil
}

// Status returns the current snapshot of one job.
func (s *Scheduler) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ProjectJobs lists a project's jobs, newest first.
func (s *Scheduler) ProjectJobs(ctx context.Context, projectID string) ([]domain.Job, error) {
	return s.jobs.ListByProject(ctx, projectID)
}

// Stats aggregates queue counts for the status endpoint.
func (s *Scheduler) Stats(ctx context.Context) (domain.QueueStats, error) {
	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}
	return domain.QueueStats{
		Waiting:   counts[domain.JobStatusQueued],
		Active:    counts[domain.JobStatusActive],
		Completed: counts[domain.JobStatusCompleted],
		Failed:    counts[domain.JobStatusFailed],
		Cancelled: counts[domain.JobStatusCancelled],
		IsPaused:  s.paused.Load(),
	}, nil
}

// Pause stops dispatching new jobs. In-flight jobs run to completion.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.logger.Info().Msg("queue paused")
}

// Resume restarts dispatch.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.mu.Lock()
	for _, ln := range s.lanes {
		ln.notify()
	}
	s.mu.Unlock()
	s.logger.Info().Msg("queue resumed")
}

// process runs one job to a terminal state. Any failure, including a panic
// in a provider client, marks the job failed without taking down the lane.
func (s *Scheduler) process(ctx context.Context, job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("job worker panicked")
			s.finish(job.ID, domain.JobStatusFailed, fmt.Sprintf("internal error: %v", r), nil)
		}
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	if err := s.jobs.MarkActive(ctx, job.ID); err != nil {
		// Usually a cancellation that won the race for the queued row.
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark active failed")
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.active[job.ID] = &running{cancel: cancel}
	s.mu.Unlock()

	var payload domain.JobPayload
	if err := json.Unmarshal(job.PayloadJSON, &payload); err != nil {
		s.finish(job.ID, domain.JobStatusFailed, "corrupt payload: "+err.Error(), nil)
		return
	}
	capability, err := providers.CapabilityForJobType(job.Type)
	if err != nil {
		s.finish(job.ID, domain.JobStatusFailed, err.Error(), nil)
		return
	}
	sel, err := s.selector.Select(jobCtx, job.UserID, capability)
	if err != nil {
		s.fail(ctx, job, err)
		return
	}
	s.mu.Lock()
	if r, ok := s.active[job.ID]; ok {
		r.cancellable = providers.SupportsCancel(sel.Client)
	}
	s.mu.Unlock()

	started := time.Now()
	res, err := sel.Client.Generate(jobCtx, providers.Request{JobID: job.ID, Type: job.Type, Payload: payload})
	if err != nil {
		if jobCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled through Cancel; the row is already terminal.
			return
		}
		s.fail(ctx, job, err)
		return
	}

	result, err := s.persistResult(ctx, job, res)
	if err != nil {
		s.finish(job.ID, domain.JobStatusFailed, err.Error(), nil)
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.finish(job.ID, domain.JobStatusFailed, "encode result: "+err.Error(), nil)
		return
	}
	if err := s.jobs.Finish(ctx, job.ID, domain.JobStatusCompleted, "", resultJSON); err != nil {
		// A concurrent cancel reached the row first.
		if !errors.Is(err, domain.ErrConflict) {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("finish failed")
		}
		return
	}
	s.recordAsset(ctx, job, payload, result)
	s.logger.Info().
		Str("job_id", job.ID).
		Str("provider", sel.Descriptor.ID).
		Dur("took", time.Since(started)).
		Msg("job completed")
}

// fail retries transient errors up to the attempt cap, then marks the job
// failed with the underlying detail.
func (s *Scheduler) fail(ctx context.Context, job *domain.Job, cause error) {
	transient := errors.Is(cause, domain.ErrUpstream) || errors.Is(cause, domain.ErrTimeout)
	if transient && job.Attempts+1 < s.maxAttempts {
		if err := s.jobs.Requeue(ctx, job.ID); err == nil {
			retry := *job
			retry.Status = domain.JobStatusQueued
			retry.Attempts++
			if ln := s.waitingLane(&retry); ln != nil {
				s.logger.Warn().
					Err(cause).
					Str("job_id", job.ID).
					Int("attempt", retry.Attempts).
					Msg("job requeued after transient failure")
				ln.push(&retry)
				return
			}
		}
	}
	s.finish(job.ID, domain.JobStatusFailed, cause.Error(), nil)
}

// finish writes a terminal state outside the caller's (possibly cancelled)
// context. ErrConflict means another writer already finished the job.
func (s *Scheduler) finish(jobID string, status domain.JobStatus, detail string, resultJSON json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.jobs.Finish(ctx, jobID, status, detail, resultJSON); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("terminal write failed")
	}
}

// persistResult copies the provider artifact into durable storage. When the
// provider returned a URL and the copy fails, the transient URL is kept so
// the job still completes.
func (s *Scheduler) persistResult(ctx context.Context, job *domain.Job, res *providers.Result) (domain.JobResult, error) {
	result := domain.JobResult{RemoteID: res.RemoteID, Format: res.Format}
	key := fmt.Sprintf("projects/%s/%s/%s%s", job.ProjectID, job.Type, job.ID, extensionFor(res.Format))

	switch {
	case len(res.Data) > 0:
		if s.store == nil {
			return result, fmt.Errorf("%w: no store for inline artifact", domain.ErrStorage)
		}
		url, err := s.store.Put(ctx, key, res.Data, res.Format)
		if err != nil {
			return result, err
		}
		result.URL = url
	case res.URL != "":
		result.SourceURL = res.URL
		result.URL = res.URL
		if s.store != nil {
			url, err := s.store.Persist(ctx, res.URL, key, res.Format)
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("durable copy failed, keeping source url")
			} else {
				result.URL = url
			}
		}
	default:
		return result, fmt.Errorf("%w: provider returned no artifact", domain.ErrUpstream)
	}
	return result, nil
}

// recordAsset registers the finished artifact so later composition can
// resolve it by scene. Failures are logged, not fatal: the job result
// already carries the URL.
func (s *Scheduler) recordAsset(ctx context.Context, job *domain.Job, payload domain.JobPayload, result domain.JobResult) {
	if s.assets == nil {
		return
	}
	asset := &domain.Asset{
		ID:        uuid.NewString(),
		ProjectID: job.ProjectID,
		SceneID:   payload.SceneID,
		JobID:     job.ID,
		Kind:      assetKindFor(job.Type),
		URL:       result.URL,
		Format:    result.Format,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.assets.Insert(ctx, asset); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("asset registration failed")
	}
}

func assetKindFor(t domain.JobType) domain.AssetKind {
	switch t {
	case domain.JobTypeImage:
		return domain.AssetKindImage
	case domain.JobTypeVoice, domain.JobTypeMusic:
		return domain.AssetKindAudio
	default:
		return domain.AssetKindVideo
	}
}

func extensionFor(format string) string {
	switch format {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	}
	return ""
}
