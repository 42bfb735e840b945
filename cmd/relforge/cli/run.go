package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relforge/relforge/internal/application"
	"github.com/relforge/relforge/internal/domain"
	"github.com/relforge/relforge/internal/infrastructure/archive_fs"
	"github.com/relforge/relforge/internal/infrastructure/config"
	"github.com/relforge/relforge/internal/infrastructure/exec_local"
	"github.com/relforge/relforge/internal/infrastructure/github_http"
	"github.com/relforge/relforge/internal/infrastructure/history_sqlite"
	"github.com/relforge/relforge/internal/infrastructure/logging"
)

var (
	runEvent       string
	runRef         string
	runChanged     []string
	runChangedFile string
	runWatch       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the trigger filter and execute the pipeline for an event",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		runner := exec_local.New(cfg.Run.Workspace)

		ev, err := buildEvent(cmd.Context(), runner)
		if err != nil {
			log.Fatal("event", zap.Error(err))
		}
		if ev.IsTag() {
			if cfg.Release.Repo == "" {
				log.Fatal("release.repo is required for tag runs")
			}
			if cfg.Release.Token == "" {
				log.Fatal("GITHUB_TOKEN is required for tag runs")
			}
		}

		spec := pipelineSpec(cfg)
		graph, err := application.BuildGraph(spec)
		if err != nil {
			log.Fatal("pipeline", zap.Error(err))
		}

		releases := github_http.New(cfg.Release.APIBase, cfg.Release.Repo, cfg.Release.Token, cfg.Release.Timeout)
		exec := application.NewExecutor(log, runner, archive_fs.New(), releases, cfg.Run.JobTimeout)
		filter := application.NewTriggerFilter(cfg.Trigger.Ignore)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("start",
			zap.String("version", version),
			zap.String("event", string(ev.Kind)),
			zap.String("ref", ev.Ref),
			zap.Int("changed_paths", len(ev.ChangedPaths)),
			zap.Int("jobs", graph.Len()),
			zap.String("workspace", cfg.Run.Workspace),
		)

		code := runOnce(ctx, log, cfg, filter, exec, graph, spec, ev)
		if runWatch {
			watchAndRerun(ctx, log, cfg, filter, exec, graph, spec, ev, runner)
			<-ctx.Done()
			return
		}
		if code != 0 {
			_ = log.Sync()
			os.Exit(code)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runEvent, "event", "push", "event kind: push or pull_request")
	runCmd.Flags().StringVar(&runRef, "ref", "refs/heads/main", "full git ref of the event")
	runCmd.Flags().StringSliceVar(&runChanged, "changed", nil, "changed path (repeatable)")
	runCmd.Flags().StringVar(&runChangedFile, "changed-file", "", "file with one changed path per line")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run on workspace changes")

	rootCmd.AddCommand(runCmd)
}

func runOnce(ctx context.Context, log *zap.Logger, cfg config.Config, filter *application.TriggerFilter, exec *application.Executor, graph *domain.Graph, spec application.PipelineSpec, ev domain.Event) int {
	if !filter.ShouldRun(ev) {
		log.Info("run suppressed: every changed path is ignored",
			zap.Strings("changed", ev.ChangedPaths),
		)
		return 0
	}

	if err := os.MkdirAll(cfg.Run.ArtifactDir, 0o755); err != nil {
		log.Error("artifact dir", zap.Error(err))
		return 1
	}

	// One run at a time per artifact dir: two pushes for the same version
	// serialize here instead of racing on archives and the release API.
	lock := flock.New(filepath.Join(cfg.Run.ArtifactDir, ".relforge.lock"))
	if err := lock.Lock(); err != nil {
		log.Error("run lock", zap.Error(err))
		return 1
	}
	defer func() { _ = lock.Unlock() }()

	run, err := exec.Execute(ctx, graph, spec, ev)
	if err != nil {
		log.Error("execute", zap.Error(err))
		return 1
	}

	saveHistory(ctx, log, cfg, run)
	printRunSummary(run)

	if run.Conclusion == domain.StatusFailure {
		return 1
	}
	return 0
}

func saveHistory(ctx context.Context, log *zap.Logger, cfg config.Config, run domain.Run) {
	store, err := history_sqlite.Open(cfg.Run.HistoryPath)
	if err != nil {
		log.Warn("history open failed", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveRun(ctx, run); err != nil {
		log.Warn("history save failed", zap.Error(err))
	}
}

func pipelineSpec(cfg config.Config) application.PipelineSpec {
	targets := make([]domain.Target, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, domain.Target{
			Triple: t.Triple,
			OS:     t.OS,
			Format: domain.ArchiveFormat(t.Archive),
		})
	}

	return application.PipelineSpec{
		Tool:            cfg.Tool.Name,
		PinnedToolchain: cfg.Toolchain.Pinned,
		TestOSes:        cfg.Test.OSes,
		TestChannels:    cfg.Toolchain.Channels,
		Targets:         targets,
		Commands: application.CommandSet{
			Check:     cfg.Commands.Check,
			Format:    cfg.Commands.Format,
			Lint:      cfg.Commands.Lint,
			Audit:     cfg.Commands.Audit,
			Test:      cfg.Commands.Test,
			Toolchain: cfg.Commands.Toolchain,
			Build:     cfg.Commands.Build,
			Strip:     cfg.Commands.Strip,
			Publish:   cfg.Commands.Publish,
		},
		Binary:        cfg.Tool.Binary,
		ArtifactDir:   cfg.Run.ArtifactDir,
		RegistryToken: cfg.Registry.Token,
	}
}

// buildEvent assembles the triggering event from flags. When no changed
// paths are given it falls back to asking git for the last commit's files.
func buildEvent(ctx context.Context, runner *exec_local.Runner) (domain.Event, error) {
	kind := domain.EventPush
	if runEvent == string(domain.EventPullRequest) {
		kind = domain.EventPullRequest
	}

	changed := append([]string(nil), runChanged...)
	if runChangedFile != "" {
		b, err := os.ReadFile(runChangedFile)
		if err != nil {
			return domain.Event{}, err
		}
		changed = append(changed, splitLines(string(b))...)
	}
	if len(changed) == 0 {
		if out, err := runner.Run(ctx, domain.Command{Line: "git diff --name-only HEAD~1"}); err == nil {
			changed = splitLines(out)
		}
	}

	return domain.Event{Kind: kind, Ref: runRef, ChangedPaths: changed}, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// watchAndRerun re-evaluates the trigger and re-runs the pipeline when the
// workspace changes, debounced so one save does not fire twice.
func watchAndRerun(ctx context.Context, log *zap.Logger, cfg config.Config, filter *application.TriggerFilter, exec *application.Executor, graph *domain.Graph, spec application.PipelineSpec, ev domain.Event, runner *exec_local.Runner) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}
	if err := w.Add(cfg.Run.Workspace); err != nil {
		log.Warn("fsnotify add failed", zap.String("dir", cfg.Run.Workspace), zap.Error(err))
		_ = w.Close()
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			next := ev
			if out, err := runner.Run(ctx, domain.Command{Line: "git diff --name-only"}); err == nil {
				next.ChangedPaths = splitLines(out)
			}
			log.Info("workspace changed, re-running", zap.Int("changed_paths", len(next.ChangedPaths)))
			runOnce(ctx, log, cfg, filter, exec, graph, spec, next)
		}

		startTimer := func() {
			if timer == nil {
				timer = time.AfterFunc(300*time.Millisecond, fire)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(300 * time.Millisecond)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case evn, ok := <-w.Events:
				if !ok {
					return
				}
				if evn.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					startTimer()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(werr))
			}
		}
	}()
}
