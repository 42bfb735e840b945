package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/relforge/relforge/internal/domain"
)

func tagEvent() domain.Event {
	return domain.Event{
		Kind:         domain.EventPush,
		Ref:          "refs/tags/v1.2.3",
		ChangedPaths: []string{"src/main.rs"},
	}
}

func branchEvent() domain.Event {
	return domain.Event{
		Kind:         domain.EventPush,
		Ref:          "refs/heads/main",
		ChangedPaths: []string{"src/main.rs"},
	}
}

func newExecutor(runner *domain.MockRunner, archiver *domain.MockArchiver, publisher *domain.MockPublisher) *Executor {
	return NewExecutor(zap.NewNop(), runner, archiver, publisher, 0)
}

func executeWith(t *testing.T, runner *domain.MockRunner, publisher *domain.MockPublisher, ev domain.Event) domain.Run {
	t.Helper()

	spec := testSpec(t.TempDir())
	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatal(err)
	}

	run, err := newExecutor(runner, &domain.MockArchiver{}, publisher).Execute(context.Background(), g, spec, ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return run
}

func statusOf(t *testing.T, run domain.Run, jobID string) domain.JobStatus {
	t.Helper()
	for _, res := range run.Results {
		if res.JobID == jobID {
			return res.Status
		}
	}
	t.Fatalf("no result for job %q", jobID)
	return ""
}

func TestExecute_TagRunPublishesRelease(t *testing.T) {
	runner := &domain.MockRunner{}
	publisher := &domain.MockPublisher{}

	run := executeWith(t, runner, publisher, tagEvent())

	if run.Conclusion != domain.StatusSuccess {
		t.Fatalf("expected success, got %s", run.Conclusion)
	}
	for _, res := range run.Results {
		if res.Status != domain.StatusSuccess {
			t.Errorf("job %s: expected success, got %s", res.JobID, res.Status)
		}
	}

	if len(publisher.Releases) != 1 {
		t.Fatalf("expected exactly one release, got %d", len(publisher.Releases))
	}
	rel := publisher.Releases[0]
	if rel.Tag != "v1.2.3" {
		t.Errorf("release tag = %q, want v1.2.3", rel.Tag)
	}

	want := []string{
		"notelint-x86_64-apple-darwin.tar.gz",
		"notelint-x86_64-apple-darwin.tar.gz.sha256",
		"notelint-x86_64-pc-windows-msvc.zip",
		"notelint-x86_64-pc-windows-msvc.zip.sha256",
		"notelint-x86_64-unknown-linux-gnu.tar.gz",
		"notelint-x86_64-unknown-linux-gnu.tar.gz.sha256",
	}
	got := append([]string(nil), rel.Files...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("release must bundle 6 files (3 archives + 3 checksums), got %d: %v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("release file[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecute_OneTestCellFailureSkipsRelease(t *testing.T) {
	runner := &domain.MockRunner{
		FailFn: func(cmd domain.Command) error {
			if strings.Contains(cmd.Line, "test") &&
				cmd.Env["RELFORGE_OS"] == "windows" && cmd.Env["RELFORGE_TOOLCHAIN"] == "nightly" {
				return errors.New("2 tests failed")
			}
			return nil
		},
	}
	publisher := &domain.MockPublisher{}

	run := executeWith(t, runner, publisher, tagEvent())

	if run.Conclusion != domain.StatusFailure {
		t.Fatalf("expected failure conclusion, got %s", run.Conclusion)
	}
	if got := statusOf(t, run, TestJobID("windows", "nightly")); got != domain.StatusFailure {
		t.Errorf("failing cell status = %s", got)
	}

	// Sibling cells are not cancelled by one cell's failure.
	for _, id := range []string{
		TestJobID("linux", "stable"), TestJobID("linux", "nightly"),
		TestJobID("macos", "stable"), TestJobID("macos", "nightly"),
		TestJobID("windows", "stable"),
	} {
		if got := statusOf(t, run, id); got != domain.StatusSuccess {
			t.Errorf("sibling cell %s = %s, want success", id, got)
		}
	}

	// Stage-level success is required downstream: 5/6 green is not enough.
	for _, id := range []string{
		BuildJobID("x86_64-unknown-linux-gnu"),
		BuildJobID("x86_64-apple-darwin"),
		BuildJobID("x86_64-pc-windows-msvc"),
		JobReleasePublish, JobPackagePublish,
	} {
		if got := statusOf(t, run, id); got != domain.StatusSkipped {
			t.Errorf("%s = %s, want skipped", id, got)
		}
	}
	if len(publisher.Releases) != 0 {
		t.Errorf("no release must be created, got %d", len(publisher.Releases))
	}
}

func TestExecute_NonTagRefSkipsGatedStages(t *testing.T) {
	runner := &domain.MockRunner{}
	publisher := &domain.MockPublisher{}

	run := executeWith(t, runner, publisher, branchEvent())

	if run.Conclusion != domain.StatusSuccess {
		t.Fatalf("expected success, got %s", run.Conclusion)
	}
	for _, id := range []string{
		BuildJobID("x86_64-unknown-linux-gnu"),
		BuildJobID("x86_64-apple-darwin"),
		BuildJobID("x86_64-pc-windows-msvc"),
		JobReleasePublish, JobPackagePublish,
	} {
		if got := statusOf(t, run, id); got != domain.StatusSkipped {
			t.Errorf("%s = %s, want skipped on non-tag ref", id, got)
		}
	}

	if len(publisher.Releases) != 0 {
		t.Error("release created on non-tag ref")
	}
	if runner.Ran("cargo publish") {
		t.Error("registry publish ran on non-tag ref")
	}
	if runner.Ran("cargo build --release") {
		t.Error("release build ran on non-tag ref")
	}
}

func TestExecute_CompileFailureSkipsEverythingDownstream(t *testing.T) {
	runner := &domain.MockRunner{
		FailOn: map[string]error{"cargo check": errors.New("compile error")},
	}
	publisher := &domain.MockPublisher{}

	run := executeWith(t, runner, publisher, tagEvent())

	if got := statusOf(t, run, JobCheck); got != domain.StatusFailure {
		t.Fatalf("verify/check = %s, want failure", got)
	}

	failures, skips := 0, 0
	for _, res := range run.Results {
		switch res.Status {
		case domain.StatusFailure:
			failures++
		case domain.StatusSkipped:
			skips++
		}
	}
	if failures != 1 || skips != len(run.Results)-1 {
		t.Errorf("expected 1 failure and %d skips, got %d/%d", len(run.Results)-1, failures, skips)
	}
}

// Registry publish depends only on the test stage: a broken build cell must
// not block it, and vice versa.
func TestExecute_BuildFailureDoesNotBlockPackagePublish(t *testing.T) {
	runner := &domain.MockRunner{
		FailOn: map[string]error{"cargo build --release --target x86_64-apple-darwin": errors.New("linker error")},
	}
	publisher := &domain.MockPublisher{}

	run := executeWith(t, runner, publisher, tagEvent())

	if got := statusOf(t, run, BuildJobID("x86_64-apple-darwin")); got != domain.StatusFailure {
		t.Fatalf("darwin build = %s, want failure", got)
	}
	if got := statusOf(t, run, JobReleasePublish); got != domain.StatusSkipped {
		t.Errorf("release/publish = %s, want skipped (all-or-nothing release)", got)
	}
	if got := statusOf(t, run, JobPackagePublish); got != domain.StatusSuccess {
		t.Errorf("package/publish = %s, want success", got)
	}
	if !runner.Ran("cargo publish") {
		t.Error("registry publish command never ran")
	}
	if len(publisher.Releases) != 0 {
		t.Error("release must not be created when a build cell failed")
	}
}

func TestExecute_FailureCarriesKind(t *testing.T) {
	runner := &domain.MockRunner{
		FailOn: map[string]error{"cargo audit": errors.New("RUSTSEC-2024-0001")},
	}
	run := executeWith(t, runner, &domain.MockPublisher{}, branchEvent())

	for _, res := range run.Results {
		if res.JobID == JobAudit {
			if res.Status != domain.StatusFailure {
				t.Fatalf("verify/audit = %s, want failure", res.Status)
			}
			if !strings.Contains(res.Error, string(domain.SecurityAdvisory)) {
				t.Errorf("audit error %q missing advisory classification", res.Error)
			}
		}
	}
}

func TestExecute_DuplicateTagRejected(t *testing.T) {
	runner := &domain.MockRunner{}
	publisher := &domain.MockPublisher{Err: domain.ErrReleaseExists}

	run := executeWith(t, runner, publisher, tagEvent())

	if run.Conclusion != domain.StatusFailure {
		t.Fatalf("expected failure conclusion, got %s", run.Conclusion)
	}
	if got := statusOf(t, run, JobReleasePublish); got != domain.StatusFailure {
		t.Errorf("release/publish = %s, want failure on duplicate tag", got)
	}
}
