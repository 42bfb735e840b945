package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relforge/relforge/internal/domain"
)

// Executor walks the pipeline graph in dependency order. A job becomes
// runnable once every need succeeded; jobs whose condition does not hold for
// the event, or with a failed or skipped need, are marked skipped. Runnable
// jobs of the same wave execute concurrently. There are no retries: a
// failure is terminal for its branch, sibling branches continue.
type Executor struct {
	log        *zap.Logger
	runner     domain.CommandRunner
	archiver   domain.Archiver
	releases   domain.ReleasePublisher
	jobTimeout time.Duration
}

func NewExecutor(log *zap.Logger, runner domain.CommandRunner, archiver domain.Archiver, releases domain.ReleasePublisher, jobTimeout time.Duration) *Executor {
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	return &Executor{
		log:        log,
		runner:     runner,
		archiver:   archiver,
		releases:   releases,
		jobTimeout: jobTimeout,
	}
}

type runState struct {
	mu        sync.Mutex
	status    map[string]domain.JobStatus
	results   map[string]domain.JobResult
	artifacts []domain.Artifact
}

func newRunState() *runState {
	return &runState{
		status:  make(map[string]domain.JobStatus),
		results: make(map[string]domain.JobResult),
	}
}

func (s *runState) finish(res domain.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[res.JobID] = res.Status
	s.results[res.JobID] = res
}

func (s *runState) addArtifact(a domain.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
}

func (s *runState) artifactList() []domain.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the graph for the event and returns the run record. The
// returned error covers orchestration problems only (bad graph); job
// failures are reported through the run's results and conclusion.
func (e *Executor) Execute(ctx context.Context, g *domain.Graph, spec PipelineSpec, ev domain.Event) (domain.Run, error) {
	order, err := g.TopoSort()
	if err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{
		ID:        uuid.NewString(),
		Event:     ev.Kind,
		Ref:       ev.Ref,
		StartedAt: time.Now().UTC(),
	}
	st := newRunState()

	remaining := make(map[string]*domain.Job, len(order))
	for _, j := range order {
		remaining[j.ID] = j
	}

	for len(remaining) > 0 {
		e.markSkipped(order, remaining, st, ev)

		var wave []*domain.Job
		for _, j := range order {
			if _, ok := remaining[j.ID]; !ok {
				continue
			}
			if st.allNeedsSucceeded(j) {
				wave = append(wave, j)
			}
		}
		if len(wave) == 0 {
			if len(remaining) > 0 {
				return run, fmt.Errorf("executor: %d jobs unreachable", len(remaining))
			}
			break
		}

		var wg sync.WaitGroup
		for _, j := range wave {
			delete(remaining, j.ID)
			wg.Add(1)
			go func(job *domain.Job) {
				defer wg.Done()
				st.finish(e.runJob(ctx, job, spec, ev, st))
			}(j)
		}
		wg.Wait()
	}

	run.FinishedAt = time.Now().UTC()
	run.Results = make([]domain.JobResult, 0, len(order))
	run.Conclusion = domain.StatusSuccess
	for _, j := range order {
		res := st.results[j.ID]
		run.Results = append(run.Results, res)
		if res.Status == domain.StatusFailure {
			run.Conclusion = domain.StatusFailure
		}
	}
	return run, nil
}

// markSkipped settles every job that can no longer run: condition not met,
// or a need that failed or was skipped. Skips propagate transitively.
func (e *Executor) markSkipped(order []*domain.Job, remaining map[string]*domain.Job, st *runState, ev domain.Event) {
	for changed := true; changed; {
		changed = false
		for _, j := range order {
			if _, ok := remaining[j.ID]; !ok {
				continue
			}
			if !j.Condition.Met(ev) || st.anyNeedSettledBad(j) {
				delete(remaining, j.ID)
				st.finish(domain.JobResult{JobID: j.ID, Stage: j.Stage, Status: domain.StatusSkipped})
				e.log.Info("job skipped", zap.String("job", j.ID), zap.String("stage", string(j.Stage)))
				changed = true
			}
		}
	}
}

func (s *runState) allNeedsSucceeded(j *domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, need := range j.Needs {
		if s.status[need] != domain.StatusSuccess {
			return false
		}
	}
	return true
}

func (s *runState) anyNeedSettledBad(j *domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, need := range j.Needs {
		switch s.status[need] {
		case domain.StatusFailure, domain.StatusSkipped:
			return true
		}
	}
	return false
}

func (e *Executor) runJob(ctx context.Context, j *domain.Job, spec PipelineSpec, ev domain.Event, st *runState) domain.JobResult {
	start := time.Now()
	log := e.log.With(zap.String("job", j.ID), zap.String("stage", string(j.Stage)))
	log.Info("job started")

	jctx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	var err error
	switch j.Kind {
	case domain.KindBuild:
		err = e.runBuild(jctx, j, spec, st)
	case domain.KindReleasePublish:
		err = e.runReleasePublish(jctx, j, ev, st, log)
	default:
		err = e.runCommands(jctx, j)
	}

	res := domain.JobResult{JobID: j.ID, Stage: j.Stage, Duration: time.Since(start)}
	if err != nil {
		var jerr *domain.JobError
		if !errors.As(err, &jerr) {
			err = &domain.JobError{JobID: j.ID, Kind: j.FailureKind, Err: err}
		}
		res.Status = domain.StatusFailure
		res.Error = err.Error()
		log.Warn("job failed", zap.Duration("took", res.Duration), zap.Error(err))
		return res
	}

	res.Status = domain.StatusSuccess
	log.Info("job completed", zap.Duration("took", res.Duration))
	return res
}

func (e *Executor) runCommands(ctx context.Context, j *domain.Job) error {
	for _, cmd := range j.Commands {
		if _, err := e.runner.Run(ctx, cmd); err != nil {
			return &domain.JobError{JobID: j.ID, Kind: j.FailureKind, Err: err}
		}
	}
	return nil
}

func (e *Executor) runBuild(ctx context.Context, j *domain.Job, spec PipelineSpec, st *runState) error {
	if err := e.runCommands(ctx, j); err != nil {
		return err
	}

	name := j.Target.ArtifactName(spec.Tool)
	dest := filepath.Join(spec.ArtifactDir, name)
	if err := e.archiver.Pack(ctx, j.Binary, dest, j.Target.Format); err != nil {
		return &domain.JobError{JobID: j.ID, Kind: domain.ArtifactPackagingFailure, Err: err}
	}

	st.addArtifact(domain.Artifact{Name: name, Path: dest, Triple: j.Target.Triple})
	return nil
}

func (e *Executor) runReleasePublish(ctx context.Context, j *domain.Job, ev domain.Event, st *runState, log *zap.Logger) error {
	artifacts := st.artifactList()

	files := make([]string, 0, 2*len(artifacts))
	for _, a := range artifacts {
		sidecar, err := e.archiver.WriteChecksum(a.Path)
		if err != nil {
			return &domain.JobError{JobID: j.ID, Kind: domain.ArtifactPackagingFailure, Err: err}
		}
		files = append(files, a.Path, sidecar)
	}

	rel, err := e.releases.Publish(ctx, ev.Tag(), files)
	if err != nil {
		return &domain.JobError{JobID: j.ID, Kind: domain.PublishRejection, Err: err}
	}

	log.Info("release created",
		zap.String("tag", rel.Tag),
		zap.Int("files", len(files)),
		zap.String("url", rel.URL),
	)
	return nil
}
