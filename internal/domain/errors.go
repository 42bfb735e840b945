package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies terminal job failures.
type FailureKind string

const (
	BuildFailure             FailureKind = "build_failure"
	FormatViolation          FailureKind = "format_violation"
	LintViolation            FailureKind = "lint_violation"
	SecurityAdvisory         FailureKind = "security_advisory"
	TestFailure              FailureKind = "test_failure"
	ArtifactPackagingFailure FailureKind = "artifact_packaging_failure"
	PublishRejection         FailureKind = "publish_rejection"
)

// ErrReleaseExists reports that a release for the tag has already been
// created. Publishing never overwrites an existing release.
var ErrReleaseExists = errors.New("release already exists for tag")

// JobError carries the failing job's identity and classification alongside
// the underlying cause.
type JobError struct {
	JobID string
	Kind  FailureKind
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
