package domain

import (
	"strings"
	"time"
)

type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Event is the trigger that may start a pipeline run.
type Event struct {
	Kind         EventKind
	Ref          string
	ChangedPaths []string
}

const tagRefPrefix = "refs/tags/"

// Tag returns the version tag name ("v1.2.3") when the event ref is a
// version-tag push, otherwise "".
func (e Event) Tag() string {
	if e.Kind != EventPush {
		return ""
	}
	name := strings.TrimPrefix(e.Ref, tagRefPrefix)
	if name == e.Ref {
		return ""
	}
	if !strings.HasPrefix(name, "v") || len(name) < 2 {
		return ""
	}
	return name
}

func (e Event) IsTag() bool { return e.Tag() != "" }

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusSuccess JobStatus = "success"
	StatusFailure JobStatus = "failure"
	StatusSkipped JobStatus = "skipped"
)

type Stage string

const (
	StageVerify  Stage = "verify"
	StageTest    Stage = "test"
	StageBuild   Stage = "release-build"
	StageRelease Stage = "release-publish"
	StagePackage Stage = "package-publish"
)

// Condition gates whether a job may run for a given event.
type Condition string

const (
	CondAlways  Condition = "always"
	CondTagOnly Condition = "tag-only"
)

// Met reports whether the condition holds for the event.
func (c Condition) Met(e Event) bool {
	switch c {
	case CondTagOnly:
		return e.IsTag()
	default:
		return true
	}
}

type JobKind string

const (
	KindCommand        JobKind = "command"
	KindBuild          JobKind = "build"
	KindReleasePublish JobKind = "release"
)

type ArchiveFormat string

const (
	FormatTarGz ArchiveFormat = "tar.gz"
	FormatZip   ArchiveFormat = "zip"
)

// Target is one cross-compilation target of the release build matrix.
type Target struct {
	Triple string
	OS     string
	Format ArchiveFormat
}

// ArtifactName returns the deterministic archive name for a tool built
// against this target, e.g. "notelint-x86_64-unknown-linux-gnu.tar.gz".
func (t Target) ArtifactName(tool string) string {
	return tool + "-" + t.Triple + "." + string(t.Format)
}

// Command is a single shell invocation a job runs. Env holds only the
// variables this command needs; credentials never leak past the jobs that
// declare them.
type Command struct {
	Line string
	Env  map[string]string
}

// Job is one schedulable node of the pipeline graph. IDs are stable
// ("verify/check", "test/linux-stable", "build/<triple>") and dependency
// edges are explicit via Needs.
type Job struct {
	ID        string
	Stage     Stage
	Kind      JobKind
	Needs     []string
	Condition Condition
	Commands  []Command

	// Target and Binary are set for build cells only: Binary is the path of
	// the compiled executable to package, Target decides archive name and
	// format.
	Target Target
	Binary string

	// FailureKind classifies a command failure of this job.
	FailureKind FailureKind
}

// Artifact is a packaged archive produced by one build cell.
type Artifact struct {
	Name   string
	Path   string
	Triple string
}

// Release is the tag-named bundle Release Publish creates. Files lists the
// uploaded names (archives and checksum sidecars).
type Release struct {
	Tag   string
	URL   string
	Files []string
}

// JobResult is the terminal outcome of one job instance.
type JobResult struct {
	JobID    string
	Stage    Stage
	Status   JobStatus
	Error    string
	Duration time.Duration
}

// Run records one pipeline execution for the history store.
type Run struct {
	ID         string
	Event      EventKind
	Ref        string
	StartedAt  time.Time
	FinishedAt time.Time
	Conclusion JobStatus
	Results    []JobResult
}
